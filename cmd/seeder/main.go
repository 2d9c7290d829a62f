package main

import (
	"context"
	"flag"
	"fmt"
	"math/rand"
	"strconv"

	"github.com/cockroachdb/errors"
	"github.com/pterm/pterm"
	"github.com/sirupsen/logrus"

	"github.com/punchamoorthee/trustledger/internal/config"
	"github.com/punchamoorthee/trustledger/internal/domain"
	"github.com/punchamoorthee/trustledger/internal/service"
	"github.com/punchamoorthee/trustledger/internal/store"
)

type seed struct {
	customerID string
	input      service.TransactionInput
}

var demo = []seed{
	{"CUST-001", service.TransactionInput{
		Type:               domain.TypePurchase,
		Amount:             89.99,
		MerchantID:         "WALMART-001",
		Location:           "New York, NY",
		DeviceFingerprint:  "iOS-Safari-Trusted",
		VerificationMethod: domain.VerificationStandard,
	}},
	{"CUST-002", service.TransactionInput{
		Type:               domain.TypePurchase,
		Amount:             2500.00,
		MerchantID:         "WALMART-002",
		Location:           "Unknown",
		DeviceFingerprint:  "Unknown-Browser",
		FraudIndicators:    []string{"high_amount", "new_device", "unusual_location"},
		VerificationMethod: domain.VerificationStandard,
	}},
}

var (
	customers = []string{"CUST-001", "CUST-002", "CUST-003", "CUST-004", "CUST-005"}
	types     = []domain.TransactionType{domain.TypePurchase, domain.TypePurchase, domain.TypeReturn, domain.TypeLoyaltyRedemption}
	methods   = []domain.VerificationMethod{domain.VerificationStandard, domain.VerificationTwoFactor, domain.VerificationBiometric}
	signals   = []string{"high_amount", "new_device", "unusual_location", "velocity"}
)

func randomSeed(r *rand.Rand) seed {
	var indicators []string
	if r.Float32() < 0.2 {
		indicators = append(indicators, signals[r.Intn(len(signals))])
	}
	return seed{
		customerID: customers[r.Intn(len(customers))],
		input: service.TransactionInput{
			Type:               types[r.Intn(len(types))],
			Amount:             float64(r.Intn(150000)) / 100,
			MerchantID:         fmt.Sprintf("WALMART-%03d", r.Intn(20)+1),
			Location:           "Bentonville, AR",
			DeviceFingerprint:  "Android-Chrome",
			FraudIndicators:    indicators,
			VerificationMethod: methods[r.Intn(len(methods))],
		},
	}
}

func main() {
	extra := flag.Int("random", 0, "Additional random transactions to submit")
	blockSize := flag.Int("block-size", 10, "Transactions per mined block")
	flag.Parse()
	if *blockSize < 1 {
		*blockSize = 1
	}

	cfg, err := config.Load()
	if err != nil {
		logrus.Fatal(err)
	}
	if err := cfg.ConfigureLogging(); err != nil {
		logrus.Fatal(err)
	}

	ctx := context.Background()
	gateway, err := store.Open(ctx, cfg)
	if err != nil {
		logrus.Fatalf("Unable to open %s store: %v", cfg.StoreBackend, err)
	}
	defer gateway.Close()

	ledger, err := service.NewLedger(ctx, gateway, service.Options{Difficulty: cfg.Difficulty})
	if err != nil {
		logrus.Fatalf("Unable to load ledger: %v", err)
	}

	pterm.DefaultSection.Println("Seeding trust ledger")

	seeds := append([]seed{}, demo...)
	r := rand.New(rand.NewSource(1))
	for i := 0; i < *extra; i++ {
		seeds = append(seeds, randomSeed(r))
	}

	rows := pterm.TableData{{"Transaction", "Customer", "Type", "Amount", "Score"}}
	var mined int
	for i, s := range seeds {
		tx, err := ledger.SubmitTransaction(ctx, s.customerID, s.input)
		if err != nil {
			pterm.Error.Printfln("Submit for %s failed: %v", s.customerID, err)
		} else {
			rows = append(rows, []string{
				tx.ID, tx.CustomerID, string(tx.Type),
				strconv.FormatFloat(tx.Amount, 'f', 2, 64),
				fmt.Sprintf("%d -> %d", tx.TrustScoreBefore, tx.TrustScoreAfter),
			})
		}

		if (i+1)%*blockSize == 0 || i == len(seeds)-1 {
			block, err := ledger.MineBlock(ctx, cfg.MinerID)
			switch {
			case errors.Is(err, service.ErrEmptyPendingQueue):
			case err != nil:
				pterm.Error.Printfln("Mining failed: %v", err)
			default:
				mined++
				pterm.Info.Printfln("Mined block %s (nonce %d, %d transactions)", block.ID, block.Nonce, len(block.Transactions))
			}
		}
	}

	if err := pterm.DefaultTable.WithHasHeader().WithData(rows).Render(); err != nil {
		logrus.WithError(err).Warn("Unable to render table")
	}

	if err := ledger.Verify(ctx); err != nil {
		pterm.Error.Printfln("Blockchain valid: false (%v)", err)
	} else {
		pterm.Success.Println("Blockchain valid: true")
	}

	stats := ledger.Stats()
	pterm.DefaultBox.WithTitle(pterm.LightGreen("|STATS|")).WithTitleTopCenter().Println(pterm.Sprintfln(
		"Blocks: %d (mined now: %d)\nTransactions: %d\nPending: %d\nCustomers: %d\nAverage trust: %.2f\nDifficulty: %d",
		stats.TotalBlocks, mined, stats.TotalTransactions, stats.PendingTransactions,
		stats.TotalCustomers, stats.AverageTrustScore, stats.Difficulty,
	))
}
