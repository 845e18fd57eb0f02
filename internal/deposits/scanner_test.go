package deposits

import (
	"math/big"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openvault/staked/internal/clock"
	"github.com/openvault/staked/internal/models"
)

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func testScanner() *Scanner {
	return NewScanner(nil, nil, clock.NewSimulated(time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)),
		0, 0, logrus.New())
}

func addressTopic(addr common.Address) common.Hash {
	return common.BytesToHash(common.LeftPadBytes(addr.Bytes(), 32))
}

func transferLog(from, to common.Address, amount *big.Int) types.Log {
	return types.Log{
		Topics:      []common.Hash{transferTopic, addressTopic(from), addressTopic(to)},
		Data:        common.LeftPadBytes(amount.Bytes(), 32),
		TxHash:      common.HexToHash("0xabc123"),
		Index:       7,
		BlockNumber: 1042,
	}
}

func TestDepositFromLog(t *testing.T) {
	s := testScanner()
	depositAddr := common.HexToAddress("0x1111111111111111111111111111111111111111")
	sender := common.HexToAddress("0x2222222222222222222222222222222222222222")

	ch := models.Chain{ID: uuid.New()}
	asset := models.Asset{ID: uuid.New(), Decimals: 6}
	row := models.DepositAddress{ID: uuid.New(), UserID: uuid.New()}
	watch := map[string]models.DepositAddress{
		strings.ToLower(depositAddr.Hex()): row,
	}

	// 1.5 tokens at 6 decimals.
	lg := transferLog(sender, depositAddr, big.NewInt(1_500_000))
	d, ok := s.depositFromLog(ch, asset, watch, lg)
	require.True(t, ok)
	assert.Equal(t, row.UserID, d.UserID)
	assert.Equal(t, asset.ID, d.AssetID)
	assert.Equal(t, ch.ID, d.ChainID)
	assert.Equal(t, row.ID, d.DepositAddressID)
	assert.True(t, d.Amount.Equal(dec("1.5")), "got %s", d.Amount)
	assert.Equal(t, strings.ToLower(sender.Hex()), d.FromAddress)
	assert.Equal(t, models.DepositConfirming, d.Status)
	require.NotNil(t, d.LogIndex)
	assert.Equal(t, int64(7), *d.LogIndex)
	require.NotNil(t, d.BlockNumber)
	assert.Equal(t, int64(1042), *d.BlockNumber)
}

func TestDepositFromLogIgnoresUnwatchedAddress(t *testing.T) {
	s := testScanner()
	lg := transferLog(
		common.HexToAddress("0x2222222222222222222222222222222222222222"),
		common.HexToAddress("0x3333333333333333333333333333333333333333"),
		big.NewInt(1))
	_, ok := s.depositFromLog(models.Chain{}, models.Asset{Decimals: 18}, map[string]models.DepositAddress{}, lg)
	assert.False(t, ok)
}

func TestDepositFromLogRejectsMalformedLogs(t *testing.T) {
	s := testScanner()
	depositAddr := common.HexToAddress("0x1111111111111111111111111111111111111111")
	watch := map[string]models.DepositAddress{
		strings.ToLower(depositAddr.Hex()): {ID: uuid.New(), UserID: uuid.New()},
	}
	asset := models.Asset{ID: uuid.New(), Decimals: 18}
	sender := common.HexToAddress("0x2222222222222222222222222222222222222222")

	t.Run("wrong topic count", func(t *testing.T) {
		lg := transferLog(sender, depositAddr, big.NewInt(1))
		lg.Topics = lg.Topics[:2]
		_, ok := s.depositFromLog(models.Chain{}, asset, watch, lg)
		assert.False(t, ok)
	})

	t.Run("reorged-out log", func(t *testing.T) {
		lg := transferLog(sender, depositAddr, big.NewInt(1))
		lg.Removed = true
		_, ok := s.depositFromLog(models.Chain{}, asset, watch, lg)
		assert.False(t, ok)
	})

	t.Run("zero amount", func(t *testing.T) {
		lg := transferLog(sender, depositAddr, big.NewInt(0))
		_, ok := s.depositFromLog(models.Chain{}, asset, watch, lg)
		assert.False(t, ok)
	})

	t.Run("wrong event topic", func(t *testing.T) {
		lg := transferLog(sender, depositAddr, big.NewInt(1))
		lg.Topics[0] = common.HexToHash("0xdead")
		_, ok := s.depositFromLog(models.Chain{}, asset, watch, lg)
		assert.False(t, ok)
	})
}
