package clob

import (
	"crypto/ecdsa"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"math/big"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// L1 auth: an EIP-712 signature over the ClobAuth struct proves control of
// the signing wallet. Used only for api-key create/derive.

const clobAuthAttestation = "This message attests that I control the given wallet"

var (
	clobAuthDomainTypeHash = crypto.Keccak256Hash([]byte("EIP712Domain(string name,string version,uint256 chainId)"))
	clobAuthNameHash       = crypto.Keccak256Hash([]byte("ClobAuthDomain"))
	clobAuthVersionHash    = crypto.Keccak256Hash([]byte("1"))
	clobAuthStructTypeHash = crypto.Keccak256Hash([]byte("ClobAuth(address address,string timestamp,uint256 nonce,string message)"))

	abiBytes32 = mustABIType("bytes32")
	abiAddress = mustABIType("address")
	abiUint256 = mustABIType("uint256")
)

func mustABIType(t string) abi.Type {
	ty, err := abi.NewType(t, "", nil)
	if err != nil {
		panic(err)
	}
	return ty
}

func clobAuthDomainSeparator(chainID int64) (common.Hash, error) {
	encoded, err := abi.Arguments{
		{Type: abiBytes32},
		{Type: abiBytes32},
		{Type: abiBytes32},
		{Type: abiUint256},
	}.Pack(clobAuthDomainTypeHash, clobAuthNameHash, clobAuthVersionHash, big.NewInt(chainID))
	if err != nil {
		return common.Hash{}, err
	}
	return crypto.Keccak256Hash(encoded), nil
}

func buildClobEip712Signature(privateKey *ecdsa.PrivateKey, signer common.Address, chainID int64, timestamp int64, nonce uint64) (string, error) {
	domain, err := clobAuthDomainSeparator(chainID)
	if err != nil {
		return "", err
	}

	// EIP-712 hashes dynamic string members as keccak256 of their bytes.
	tsHash := crypto.Keccak256Hash([]byte(strconv.FormatInt(timestamp, 10)))
	msgHash := crypto.Keccak256Hash([]byte(clobAuthAttestation))

	encoded, err := abi.Arguments{
		{Type: abiBytes32},
		{Type: abiAddress},
		{Type: abiBytes32},
		{Type: abiUint256},
		{Type: abiBytes32},
	}.Pack(clobAuthStructTypeHash, signer, tsHash, new(big.Int).SetUint64(nonce), msgHash)
	if err != nil {
		return "", err
	}
	structHash := crypto.Keccak256Hash(encoded)

	raw := make([]byte, 0, 66)
	raw = append(raw, 0x19, 0x01)
	raw = append(raw, domain.Bytes()...)
	raw = append(raw, structHash.Bytes()...)
	digest := crypto.Keccak256Hash(raw)

	sig, err := crypto.Sign(digest.Bytes(), privateKey)
	if err != nil {
		return "", err
	}
	sig[64] += 27
	return "0x" + common.Bytes2Hex(sig), nil
}

// L2 auth: HMAC-SHA256 over timestamp+method+path+body, keyed with the
// base64-decoded api secret, emitted as url-safe base64.

func sanitizeBase64Secret(secret string) string {
	secret = strings.TrimSpace(secret)
	secret = strings.ReplaceAll(secret, "-", "+")
	secret = strings.ReplaceAll(secret, "_", "/")

	var b strings.Builder
	b.Grow(len(secret))
	for i := 0; i < len(secret); i++ {
		c := secret[i]
		switch {
		case c >= 'A' && c <= 'Z', c >= 'a' && c <= 'z', c >= '0' && c <= '9':
			b.WriteByte(c)
		case c == '+' || c == '/' || c == '=':
			b.WriteByte(c)
		}
	}
	out := b.String()
	if rem := len(out) % 4; rem != 0 {
		out += strings.Repeat("=", 4-rem)
	}
	return out
}

func buildPolyHmacSignature(secret string, timestamp int64, method, requestPath string, body []byte) (string, error) {
	key, err := base64.StdEncoding.DecodeString(sanitizeBase64Secret(secret))
	if err != nil {
		return "", fmt.Errorf("decode base64 secret: %w", err)
	}

	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(strconv.FormatInt(timestamp, 10)))
	mac.Write([]byte(method))
	mac.Write([]byte(requestPath))
	if len(body) > 0 {
		mac.Write(body)
	}

	sig := base64.StdEncoding.EncodeToString(mac.Sum(nil))
	sig = strings.ReplaceAll(sig, "+", "-")
	sig = strings.ReplaceAll(sig, "/", "_")
	return sig, nil
}
