package workers

import (
	"context"
	"math/big"
	"strings"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"

	"district-relay/backend/pkg/apierr"
)

// verifierABI is the minimal ABI surface the relayer calls against: a
// read-only nullifier-used check and the proof submission itself. Grounded
// on certenIO's generic abi.JSON/Pack/Unpack call pattern rather than a
// fully generated contract binding, since the verifier contract here has
// only these two entry points.
const verifierABI = `[
	{"type":"function","name":"nullifierUsed","stateMutability":"view",
	 "inputs":[{"name":"nullifier","type":"uint256"}],
	 "outputs":[{"name":"","type":"bool"}]},
	{"type":"function","name":"verifyAndConsume","stateMutability":"nonpayable",
	 "inputs":[
		{"name":"proof","type":"bytes"},
		{"name":"publicInputs","type":"uint256[]"},
		{"name":"verifierDepth","type":"uint256"}
	 ],
	 "outputs":[]}
]`

// EthVerifierClient is the production VerifierClient: it talks to the
// on-chain verifier contract over JSON-RPC via ethclient/bind, the same
// stack the pack's Ethereum integration (certenIO's pkg/ethereum) uses.
type EthVerifierClient struct {
	client          *ethclient.Client
	contractAddress common.Address
	contractABI     abi.ABI
	chainID         *big.Int
	gasLimit        uint64
}

// NewEthVerifierClient dials rpcURL and binds to the verifier contract at
// contractAddressHex on chainID.
func NewEthVerifierClient(rpcURL, contractAddressHex string, chainID int64, gasLimit uint64) (*EthVerifierClient, error) {
	client, err := ethclient.Dial(rpcURL)
	if err != nil {
		return nil, apierr.Wrap(apierr.KindInitFailed, "failed to connect to verifier RPC endpoint", err)
	}
	parsedABI, err := abi.JSON(strings.NewReader(verifierABI))
	if err != nil {
		return nil, apierr.Wrap(apierr.KindInitFailed, "failed to parse verifier ABI", err)
	}
	if gasLimit == 0 {
		gasLimit = 500_000
	}
	return &EthVerifierClient{
		client:          client,
		contractAddress: common.HexToAddress(contractAddressHex),
		contractABI:     parsedABI,
		chainID:         big.NewInt(chainID),
		gasLimit:        gasLimit,
	}, nil
}

// NullifierUsed implements VerifierClient's pre-flight check.
func (e *EthVerifierClient) NullifierUsed(ctx context.Context, nullifierHex string) (bool, error) {
	nullifier, ok := new(big.Int).SetString(nullifierHex, 16)
	if !ok {
		return false, apierr.New(apierr.KindInvalidInput, "nullifier is not a valid hex field element")
	}

	callData, err := e.contractABI.Pack("nullifierUsed", nullifier)
	if err != nil {
		return false, apierr.Wrap(apierr.KindInternal, "failed to pack nullifierUsed call", err)
	}

	result, err := e.client.CallContract(ctx, ethereum.CallMsg{To: &e.contractAddress, Data: callData}, nil)
	if err != nil {
		return false, apierr.Wrap(apierr.KindNetworkError, "nullifierUsed call failed", err)
	}

	outputs, err := e.contractABI.Unpack("nullifierUsed", result)
	if err != nil || len(outputs) != 1 {
		return false, apierr.Wrap(apierr.KindNetworkError, "failed to decode nullifierUsed response", err)
	}
	used, ok := outputs[0].(bool)
	if !ok {
		return false, apierr.New(apierr.KindNetworkError, "unexpected nullifierUsed response shape")
	}
	return used, nil
}

// SubmitProof implements VerifierClient's signed submission.
func (e *EthVerifierClient) SubmitProof(ctx context.Context, signer *Signer, sub SubmissionView) (string, error) {
	publicInputs := make([]*big.Int, len(sub.PublicInputs))
	for i, s := range sub.PublicInputs {
		v, ok := new(big.Int).SetString(s, 16)
		if !ok {
			return "", apierr.New(apierr.KindInvalidInput, "public input is not a valid hex field element")
		}
		publicInputs[i] = v
	}

	callData, err := e.contractABI.Pack("verifyAndConsume", []byte(sub.Proof), publicInputs, big.NewInt(int64(sub.VerifierDepth)))
	if err != nil {
		return "", apierr.Wrap(apierr.KindInternal, "failed to pack verifyAndConsume call", err)
	}

	fromAddress := common.HexToAddress(signer.Address())
	nonce, err := e.client.PendingNonceAt(ctx, fromAddress)
	if err != nil {
		return "", apierr.Wrap(apierr.KindNetworkError, "failed to fetch nonce", err)
	}
	gasPrice, err := e.client.SuggestGasPrice(ctx)
	if err != nil {
		return "", apierr.Wrap(apierr.KindNetworkError, "failed to fetch gas price", err)
	}

	tx := types.NewTransaction(nonce, e.contractAddress, big.NewInt(0), e.gasLimit, gasPrice, callData)
	signedTx, err := types.SignTx(tx, types.LatestSignerForChainID(e.chainID), signer.privateKey)
	if err != nil {
		return "", apierr.Wrap(apierr.KindInternal, "failed to sign verifier transaction", err)
	}

	if err := e.client.SendTransaction(ctx, signedTx); err != nil {
		return "", apierr.Wrap(apierr.KindNetworkError, "failed to send verifier transaction", err)
	}

	receipt, err := bind.WaitMined(ctx, e.client, signedTx)
	if err != nil {
		return "", apierr.Wrap(apierr.KindNetworkError, "failed waiting for verifier transaction receipt", err)
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return "", apierr.New(apierr.KindWitnessInvalid, "verifier contract rejected the proof")
	}
	return signedTx.Hash().Hex(), nil
}
