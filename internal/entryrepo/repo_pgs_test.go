//go:build integration

package entryrepo_test

import (
	"context"
	"database/sql"
	"log"
	"os"
	"testing"
	"time"

	"github.com/go-petr/pet-escrow/internal/domain"
	"github.com/go-petr/pet-escrow/internal/entryrepo"
	"github.com/go-petr/pet-escrow/internal/integrationtest"
	"github.com/go-petr/pet-escrow/internal/integrationtest/helpers"
	"github.com/go-petr/pet-escrow/pkg/configpkg"
	"github.com/go-petr/pet-escrow/pkg/randompkg"
	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/shopspring/decimal"
)

var (
	dbDriver string
	dbSource string
)

func TestMain(m *testing.M) {
	config, err := configpkg.Load("../../configs")
	if err != nil {
		log.Fatal("cannot load config:", err)
	}

	dbDriver = config.DBDriver
	dbSource = config.DBSource

	os.Exit(m.Run())
}

func TestCreate(t *testing.T) {
	testCases := []struct {
		name      string
		wantEntry func(tx *sql.Tx) domain.Entry
		wantErr   error
	}{
		{
			name: "Funding",
			wantEntry: func(tx *sql.Tx) domain.Entry {
				account := helpers.SeedAccountWith1000Balance(t, tx)
				return domain.Entry{
					AccountID: account.ID,
					Kind:      domain.EntryFunding,
					Amount:    randompkg.MoneyAmountBetween(1, 100),
				}
			},
		},
		{
			name: "EscrowHold",
			wantEntry: func(tx *sql.Tx) domain.Entry {
				sender := helpers.SeedAccountWith1000Balance(t, tx)
				receiver := helpers.SeedAccountWith1000Balance(t, tx)
				escrow := helpers.SeedTransaction(t, tx, sender.ID, receiver.ID,
					decimal.NewFromInt(10), domain.StatusPending)

				return domain.Entry{
					AccountID:     sender.ID,
					TransactionID: escrow.ID,
					Kind:          domain.EntryEscrowHold,
					Amount:        escrow.Amount.Neg(),
				}
			},
		},
		{
			name: "ConstraintViolation:entries_account_id_fkey",
			wantEntry: func(tx *sql.Tx) domain.Entry {
				return domain.Entry{AccountID: -100500, Kind: domain.EntryFunding, Amount: decimal.NewFromInt(1)}
			},
			wantErr: domain.ErrAccountNotFound,
		},
	}

	for i := range testCases {
		tc := testCases[i]

		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			// Prepare test transaction and seed database
			tx := integrationtest.SetupTX(t, dbDriver, dbSource)
			want := tc.wantEntry(tx)
			entryRepo := entryrepo.NewRepoPGS(tx)

			// Run test
			got, err := entryRepo.Create(context.Background(), want)
			if err != nil {
				if err == tc.wantErr {
					return
				}
				t.Fatalf(`entryRepo.Create(context.Background(), %+v) returned error: %v`, want, err)
			}

			ignoreFields := cmpopts.IgnoreFields(domain.Entry{}, "ID", "CreatedAt")
			if diff := cmp.Diff(want, got, ignoreFields); diff != "" {
				t.Errorf(`entryRepo.Create(context.Background(), %+v) returned unexpected difference (-want +got):\n%s"`,
					want, diff)
			}

			if got.ID == 0 {
				t.Error("got.ID = 0, want non-zero")
			}
		})
	}
}

func TestList(t *testing.T) {
	const entriesCount = 30

	testCases := []struct {
		name                    string
		limit                   int32
		offset                  int32
		wantAccountIDAndEntries func(tx *sql.Tx) (int32, []domain.Entry)
	}{
		{
			name:   "ListAll",
			limit:  100,
			offset: 0,
			wantAccountIDAndEntries: func(tx *sql.Tx) (int32, []domain.Entry) {
				account := helpers.SeedAccountWith1000Balance(t, tx)
				return account.ID, helpers.SeedEntries(t, tx, entriesCount, account.ID)
			},
		},
		{
			name:   "Limit10Offset10",
			limit:  10,
			offset: 10,
			wantAccountIDAndEntries: func(tx *sql.Tx) (int32, []domain.Entry) {
				account := helpers.SeedAccountWith1000Balance(t, tx)
				return account.ID, helpers.SeedEntries(t, tx, entriesCount, account.ID)[10:20]
			},
		},
		{
			name:   "NoEntries",
			limit:  100,
			offset: 0,
			wantAccountIDAndEntries: func(tx *sql.Tx) (int32, []domain.Entry) {
				return 0, []domain.Entry{}
			},
		},
	}

	for i := range testCases {
		tc := testCases[i]

		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			// Prepare test transaction and seed database
			tx := integrationtest.SetupTX(t, dbDriver, dbSource)
			wantAccountID, wantEntries := tc.wantAccountIDAndEntries(tx)
			entryRepo := entryrepo.NewRepoPGS(tx)

			// Run test
			got, err := entryRepo.List(context.Background(), wantAccountID, tc.limit, tc.offset)
			if err != nil {
				t.Fatalf(`entryRepo.List(context.Background(), %v, %v, %v) returned unexpected error: %v`,
					wantAccountID, tc.limit, tc.offset, err)
			}

			if diff := cmp.Diff(wantEntries, got, cmpopts.EquateApproxTime(time.Second)); diff != "" {
				t.Errorf(`entryRepo.List(context.Background(), %v, %v, %v) returned unexpected difference (-want +got):\n%s"`,
					wantAccountID, tc.limit, tc.offset, diff)
			}
		})
	}
}
