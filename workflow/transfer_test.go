package workflow_test

import (
	"context"
	"fmt"
	"testing"

	"bitbucket.org/mmdatafocus/studentbank_backend/models"
	"bitbucket.org/mmdatafocus/studentbank_backend/workflow"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTransferMovesMoneyAsBalancedPair(t *testing.T) {
	f := newFixture(t, workflow.Options{})
	shareType := f.createShareType(nil)
	source := f.createShare(f.instanceId, shareType, "20.00")
	destination := f.createShare(f.instanceId, shareType, "1.00")

	result, err := f.ledger.Transfer(context.Background(), workflow.TransferRequest{
		SourceShareId:      source.ID,
		DestinationShareId: destination.ID,
		Amount:             models.MustParseMoney("7.35"),
		Comment:            "lunch",
	})
	require.NoError(t, err)

	assert.Equal(t, models.TransactionTypeTransfer, result.Debit.TransactionType)
	assert.Equal(t, models.TransactionTypeTransfer, result.Credit.TransactionType)
	assert.True(t, result.Debit.Amount.Add(result.Credit.Amount).IsZero())
	assert.Equal(t, fmt.Sprintf("Transfer to #%d: lunch", destination.ID), result.Debit.Comment)
	assert.Equal(t, fmt.Sprintf("Transfer from #%d: lunch", source.ID), result.Credit.Comment)
	assert.Equal(t, "12.65", f.balance(source.ID))
	assert.Equal(t, "8.35", f.balance(destination.ID))
	f.requireBalanceIdentity(source.ID)
	f.requireBalanceIdentity(destination.ID)
}

func TestTransferWithoutCommentHasNoTrailingSeparator(t *testing.T) {
	f := newFixture(t, workflow.Options{})
	shareType := f.createShareType(nil)
	source := f.createShare(f.instanceId, shareType, "5.00")
	destination := f.createShare(f.instanceId, shareType, "")

	result, err := f.ledger.Transfer(context.Background(), workflow.TransferRequest{
		SourceShareId:      source.ID,
		DestinationShareId: destination.ID,
		Amount:             models.MustParseMoney("1.00"),
		Comment:            "  ",
	})
	require.NoError(t, err)
	assert.Equal(t, fmt.Sprintf("Transfer to #%d", destination.ID), result.Debit.Comment)
	assert.Equal(t, fmt.Sprintf("Transfer from #%d", source.ID), result.Credit.Comment)
}

func TestTransferConservesTotalAcrossManyTransfers(t *testing.T) {
	f := newFixture(t, workflow.Options{})
	shareType := f.createShareType(nil)
	shares := []*models.Share{
		f.createShare(f.instanceId, shareType, "50.00"),
		f.createShare(f.instanceId, shareType, "30.00"),
		f.createShare(f.instanceId, shareType, "20.00"),
	}
	amounts := []string{"1.11", "2.22", "3.33", "4.44", "5.55", "6.66"}
	for i, amount := range amounts {
		source, destination := shares[i%3], shares[(i+1)%3]
		_, err := f.ledger.Transfer(context.Background(), workflow.TransferRequest{
			SourceShareId:      source.ID,
			DestinationShareId: destination.ID,
			Amount:             models.MustParseMoney(amount),
		})
		require.NoError(t, err)
	}

	total := models.ZeroMoney
	for _, share := range shares {
		total = total.Add(f.share(share.ID).Balance)
		f.requireBalanceIdentity(share.ID)
	}
	assert.Equal(t, "100.00", total.String())
}

func TestTransferRejectsBadArguments(t *testing.T) {
	f := newFixture(t, workflow.Options{})
	shareType := f.createShareType(nil)
	a := f.createShare(f.instanceId, shareType, "5.00")
	b := f.createShare(f.instanceId, shareType, "5.00")
	elsewhere := f.createShare(f.createInstance(), shareType, "5.00")
	ctx := context.Background()

	cases := []struct {
		name string
		req  workflow.TransferRequest
		want error
	}{
		{"zero amount", workflow.TransferRequest{SourceShareId: a.ID, DestinationShareId: b.ID, Amount: models.ZeroMoney}, models.ErrArgumentOutOfRange},
		{"negative amount", workflow.TransferRequest{SourceShareId: a.ID, DestinationShareId: b.ID, Amount: models.MustParseMoney("-1.00")}, models.ErrArgumentOutOfRange},
		{"same share", workflow.TransferRequest{SourceShareId: a.ID, DestinationShareId: a.ID, Amount: models.MustParseMoney("1.00")}, models.ErrArgumentOutOfRange},
		{"other instance", workflow.TransferRequest{SourceShareId: a.ID, DestinationShareId: elsewhere.ID, Amount: models.MustParseMoney("1.00")}, models.ErrArgumentOutOfRange},
		{"missing destination", workflow.TransferRequest{SourceShareId: a.ID, DestinationShareId: 9999, Amount: models.MustParseMoney("1.00")}, models.ErrShareNotFound},
		{"insufficient funds", workflow.TransferRequest{SourceShareId: a.ID, DestinationShareId: b.ID, Amount: models.MustParseMoney("5.01")}, models.ErrNonsufficientFunds},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.ledger.Transfer(ctx, tc.req)
			require.ErrorIs(t, err, tc.want)
		})
	}
	assert.Equal(t, "5.00", f.balance(a.ID))
	assert.Equal(t, "5.00", f.balance(b.ID))
	assert.Equal(t, "5.00", f.balance(elsewhere.ID))
}

func TestTransferCountsAgainstSourceWithdrawalLimitOnly(t *testing.T) {
	f := newFixture(t, workflow.Options{})
	limited := f.createShareType(func(st *models.ShareType) { st.WithdrawalLimitCount = 1 })
	source := f.createShare(f.instanceId, limited, "10.00")
	destination := f.createShare(f.instanceId, limited, "0.00")
	req := workflow.TransferRequest{SourceShareId: source.ID, DestinationShareId: destination.ID, Amount: models.MustParseMoney("1.00")}

	_, err := f.ledger.Transfer(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, 1, f.share(source.ID).LimitedWithdrawalCount)
	assert.Equal(t, 0, f.share(destination.ID).LimitedWithdrawalCount)

	_, err = f.ledger.Transfer(context.Background(), req)
	require.ErrorIs(t, err, models.ErrWithdrawalLimitExceeded)
	assert.Equal(t, "9.00", f.balance(source.ID))
	assert.Equal(t, "1.00", f.balance(destination.ID))
}
