// Package polygonutil reads the funder's USDC standing on Polygon so live
// sessions can warn before the exchange rejects orders.
package polygonutil

import (
	"context"
	"fmt"
	"math"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
)

const USDCTokenDecimals = 6

var (
	USDCTokenAddress = common.HexToAddress("0x2791Bca1f2de4661ED88A30C99A7a9449Aa84174")

	// The two exchange contracts that must be approved to pull collateral.
	CTFExchangeAddress        = common.HexToAddress("0x4bFb41d5B3570DeFd03C39a9A4D8dE6Bd8B8982E")
	NegRiskCTFExchangeAddress = common.HexToAddress("0xC5d563A36AE78145C45a50134d48A1215220f80a")
)

var (
	erc20BalanceOfSelector = crypto.Keccak256([]byte("balanceOf(address)"))[:4]
	erc20AllowanceSelector = crypto.Keccak256([]byte("allowance(address,address)"))[:4]
)

// Report is the funder's USDC balance and exchange allowances in micro-USDC.
type Report struct {
	BalanceMicros uint64
	Allowances    map[common.Address]uint64
}

// BalanceUSD converts the balance to whole collateral units.
func (r Report) BalanceUSD() float64 {
	return float64(r.BalanceMicros) / 1e6
}

// ZeroAllowances lists the exchange contracts that cannot pull collateral.
func (r Report) ZeroAllowances() []common.Address {
	var out []common.Address
	for addr, v := range r.Allowances {
		if v == 0 {
			out = append(out, addr)
		}
	}
	return out
}

// Preflight reads the funder's USDC balance and its allowances toward both
// exchange contracts.
func Preflight(ctx context.Context, rpcURL string, owner common.Address) (Report, error) {
	if strings.TrimSpace(rpcURL) == "" {
		return Report{}, fmt.Errorf("polygon RPC URL missing")
	}
	if (owner == common.Address{}) {
		return Report{}, fmt.Errorf("owner address missing")
	}

	client, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return Report{}, fmt.Errorf("dial polygon RPC: %w", err)
	}
	defer client.Close()

	callUint256 := func(to common.Address, data []byte) (*big.Int, error) {
		out, err := client.CallContract(ctx, ethereum.CallMsg{To: &to, Data: data}, nil)
		if err != nil {
			return nil, err
		}
		if len(out) == 0 {
			return nil, fmt.Errorf("empty result")
		}
		return new(big.Int).SetBytes(out), nil
	}

	balData := append(append([]byte{}, erc20BalanceOfSelector...), common.LeftPadBytes(owner.Bytes(), 32)...)
	bal, err := callUint256(USDCTokenAddress, balData)
	if err != nil {
		return Report{}, fmt.Errorf("usdc balanceOf(%s): %w", owner.Hex(), err)
	}
	if !bal.IsUint64() {
		return Report{}, fmt.Errorf("usdc balance overflows uint64")
	}

	report := Report{
		BalanceMicros: bal.Uint64(),
		Allowances:    make(map[common.Address]uint64, 2),
	}
	for _, spender := range []common.Address{CTFExchangeAddress, NegRiskCTFExchangeAddress} {
		data := append(append([]byte{}, erc20AllowanceSelector...), common.LeftPadBytes(owner.Bytes(), 32)...)
		data = append(data, common.LeftPadBytes(spender.Bytes(), 32)...)
		a, err := callUint256(USDCTokenAddress, data)
		if err != nil {
			return Report{}, fmt.Errorf("usdc allowance(%s,%s): %w", owner.Hex(), spender.Hex(), err)
		}
		// Allowances are commonly max(uint256); saturate so "unlimited" does
		// not read as zero.
		report.Allowances[spender] = saturateUint64(a)
	}
	return report, nil
}

func saturateUint64(x *big.Int) uint64 {
	if x == nil || x.Sign() <= 0 {
		return 0
	}
	if x.IsUint64() {
		return x.Uint64()
	}
	return math.MaxUint64
}
