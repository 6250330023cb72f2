package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	gethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"

	qcrypto "qawakun/crypto"
)

var transferEventSignature = gethcrypto.Keccak256Hash([]byte("Transfer(address,address,uint256)"))

// ErrTokenIDNotFound is returned when a mint receipt carries no Transfer
// event the token id could be read from.
var ErrTokenIDNotFound = errors.New("ledger: token id not found in receipt")

// ErrNotDeployed is returned by CheckConfiguration when a configured
// contract address holds no code.
var ErrNotDeployed = errors.New("ledger: no contract code at address")

// GasEstimationError wraps a revert surfaced during gas estimation, before
// any transaction was broadcast.
type GasEstimationError struct {
	Method string
	Err    error
}

func (e *GasEstimationError) Error() string {
	return fmt.Sprintf("ledger: estimate gas for %s: %v", e.Method, e.Err)
}

func (e *GasEstimationError) Unwrap() error {
	return e.Err
}

// Backend is the subset of the Ethereum RPC surface the client uses.
type Backend interface {
	ChainID(ctx context.Context) (*big.Int, error)
	CodeAt(ctx context.Context, account common.Address, blockNumber *big.Int) ([]byte, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	EstimateGas(ctx context.Context, call ethereum.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *gethtypes.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*gethtypes.Receipt, error)
	CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

// Dial initialises an Ethereum RPC client for the provided endpoint.
func Dial(endpoint string) (*ethclient.Client, error) {
	trimmed := strings.TrimSpace(endpoint)
	if trimmed == "" {
		return nil, fmt.Errorf("ledger: rpc endpoint required")
	}
	return ethclient.Dial(trimmed)
}

// ContractProposal mirrors the governance contract's proposal tuple.
type ContractProposal struct {
	Proposer       common.Address `abi:"proposer"`
	ProposalType   uint8          `abi:"proposalType"`
	Description    string         `abi:"description"`
	Conversation   string         `abi:"conversation"`
	Timestamp      *big.Int       `abi:"timestamp"`
	ApprovalCount  *big.Int       `abi:"approvalCount"`
	RejectionCount *big.Int       `abi:"rejectionCount"`
	Status         uint8          `abi:"status"`
}

// Config carries the chain parameters for a Client.
type Config struct {
	ChainID            *big.Int
	CredentialContract common.Address
	GovernanceContract common.Address
	ReceiptTimeout     time.Duration
	PollInterval       time.Duration
}

// Client signs and submits transactions against the credential and
// governance contracts and reads their view methods.
type Client struct {
	backend Backend
	signer  *qcrypto.Signer
	cfg     Config
	logger  *slog.Logger

	credABI abi.ABI
	govABI  abi.ABI
}

// NewClient builds a Client. The backend is typically an ethclient but is
// left abstract for tests.
func NewClient(backend Backend, signer *qcrypto.Signer, cfg Config, logger *slog.Logger) (*Client, error) {
	if backend == nil {
		return nil, errors.New("ledger: backend required")
	}
	if signer == nil {
		return nil, errors.New("ledger: signer required")
	}
	if cfg.ChainID == nil || cfg.ChainID.Sign() <= 0 {
		return nil, errors.New("ledger: chain id required")
	}
	if cfg.ReceiptTimeout <= 0 {
		cfg.ReceiptTimeout = 2 * time.Minute
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 2 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	credABI, err := abi.JSON(strings.NewReader(credentialABI))
	if err != nil {
		return nil, fmt.Errorf("ledger: parse credential abi: %w", err)
	}
	govABI, err := abi.JSON(strings.NewReader(governanceABI))
	if err != nil {
		return nil, fmt.Errorf("ledger: parse governance abi: %w", err)
	}
	return &Client{
		backend: backend,
		signer:  signer,
		cfg:     cfg,
		logger:  logger.With("component", "ledger"),
		credABI: credABI,
		govABI:  govABI,
	}, nil
}

// OperatorAddress returns the address transactions are signed from.
func (c *Client) OperatorAddress() common.Address {
	return gethcrypto.PubkeyToAddress(c.signer.PrivateKey().PublicKey)
}

// BalanceOf returns the credential balance of a wallet.
func (c *Client) BalanceOf(ctx context.Context, wallet common.Address) (*big.Int, error) {
	data, err := c.credABI.Pack("balanceOf", wallet)
	if err != nil {
		return nil, fmt.Errorf("ledger: pack balanceOf: %w", err)
	}
	raw, err := c.backend.CallContract(ctx, ethereum.CallMsg{To: &c.cfg.CredentialContract, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("ledger: call balanceOf: %w", err)
	}
	out, err := c.credABI.Unpack("balanceOf", raw)
	if err != nil {
		return nil, fmt.Errorf("ledger: unpack balanceOf: %w", err)
	}
	balance, ok := abi.ConvertType(out[0], new(big.Int)).(*big.Int)
	if !ok {
		return nil, fmt.Errorf("ledger: unexpected balanceOf result")
	}
	return balance, nil
}

// Mint mints a credential to the operator wallet. The sealed profile is
// stored as an on-chain string alongside the artwork URI, and the receipt
// is returned once mined.
func (c *Client) Mint(ctx context.Context, encryptedData, imageURI string) (*gethtypes.Receipt, error) {
	data, err := c.credABI.Pack("mint", encryptedData, imageURI)
	if err != nil {
		return nil, fmt.Errorf("ledger: pack mint: %w", err)
	}
	return c.transact(ctx, "mint", c.cfg.CredentialContract, data)
}

// Transfer moves a minted credential from the operator to the claimant.
func (c *Client) Transfer(ctx context.Context, to common.Address, tokenID *big.Int) (*gethtypes.Receipt, error) {
	data, err := c.credABI.Pack("transferFrom", c.OperatorAddress(), to, tokenID)
	if err != nil {
		return nil, fmt.Errorf("ledger: pack transferFrom: %w", err)
	}
	return c.transact(ctx, "transferFrom", c.cfg.CredentialContract, data)
}

// IndexProposal mirrors an approved proposal onto the governance contract.
func (c *Client) IndexProposal(ctx context.Context, proposer common.Address, proposalType uint8, description, conversation string, timestamp *big.Int) (*gethtypes.Receipt, error) {
	data, err := c.govABI.Pack("indexProposal", proposer, proposalType, description, conversation, timestamp)
	if err != nil {
		return nil, fmt.Errorf("ledger: pack indexProposal: %w", err)
	}
	return c.transact(ctx, "indexProposal", c.cfg.GovernanceContract, data)
}

// Vote records an on-chain vote for or against a mirrored proposal.
func (c *Client) Vote(ctx context.Context, proposalID *big.Int, support bool) (*gethtypes.Receipt, error) {
	data, err := c.govABI.Pack("vote", proposalID, support)
	if err != nil {
		return nil, fmt.Errorf("ledger: pack vote: %w", err)
	}
	return c.transact(ctx, "vote", c.cfg.GovernanceContract, data)
}

// ExecuteMonthlySelection triggers the contract's monthly winner selection.
func (c *Client) ExecuteMonthlySelection(ctx context.Context) (*gethtypes.Receipt, error) {
	data, err := c.govABI.Pack("executeMonthlySelection")
	if err != nil {
		return nil, fmt.Errorf("ledger: pack executeMonthlySelection: %w", err)
	}
	return c.transact(ctx, "executeMonthlySelection", c.cfg.GovernanceContract, data)
}

// GetProposal reads one mirrored proposal by id.
func (c *Client) GetProposal(ctx context.Context, proposalID *big.Int) (ContractProposal, error) {
	var proposal ContractProposal
	data, err := c.govABI.Pack("getProposal", proposalID)
	if err != nil {
		return proposal, fmt.Errorf("ledger: pack getProposal: %w", err)
	}
	raw, err := c.backend.CallContract(ctx, ethereum.CallMsg{To: &c.cfg.GovernanceContract, Data: data}, nil)
	if err != nil {
		return proposal, fmt.Errorf("ledger: call getProposal: %w", err)
	}
	out, err := c.govABI.Unpack("getProposal", raw)
	if err != nil {
		return proposal, fmt.Errorf("ledger: unpack getProposal: %w", err)
	}
	decoded, ok := abi.ConvertType(out[0], new(ContractProposal)).(*ContractProposal)
	if !ok {
		return proposal, fmt.Errorf("ledger: unexpected getProposal result")
	}
	return *decoded, nil
}

// ActiveProposals reads the ids of proposals currently open for voting.
func (c *Client) ActiveProposals(ctx context.Context) ([]*big.Int, error) {
	return c.readIDs(ctx, "getActiveProposals")
}

// MonthlyProposals reads the ids of proposals recorded for a month.
func (c *Client) MonthlyProposals(ctx context.Context, month *big.Int) ([]*big.Int, error) {
	return c.readIDs(ctx, "getMonthlyProposals", month)
}

// WinningProposals reads the ids of proposals that won a month's selection.
func (c *Client) WinningProposals(ctx context.Context, month *big.Int) ([]*big.Int, error) {
	return c.readIDs(ctx, "getWinningProposals", month)
}

func (c *Client) readIDs(ctx context.Context, method string, args ...interface{}) ([]*big.Int, error) {
	data, err := c.govABI.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("ledger: pack %s: %w", method, err)
	}
	raw, err := c.backend.CallContract(ctx, ethereum.CallMsg{To: &c.cfg.GovernanceContract, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("ledger: call %s: %w", method, err)
	}
	out, err := c.govABI.Unpack(method, raw)
	if err != nil {
		return nil, fmt.Errorf("ledger: unpack %s: %w", method, err)
	}
	ids, ok := abi.ConvertType(out[0], new([]*big.Int)).(*[]*big.Int)
	if !ok {
		return nil, fmt.Errorf("ledger: unexpected %s result", method)
	}
	return *ids, nil
}

// CheckConfiguration verifies the RPC endpoint answers for the configured
// chain and that both contract addresses hold code.
func (c *Client) CheckConfiguration(ctx context.Context) error {
	chainID, err := c.backend.ChainID(ctx)
	if err != nil {
		return fmt.Errorf("ledger: fetch chain id: %w", err)
	}
	if chainID.Cmp(c.cfg.ChainID) != 0 {
		return fmt.Errorf("ledger: chain id mismatch: rpc reports %s, configured %s", chainID, c.cfg.ChainID)
	}
	for _, contract := range []common.Address{c.cfg.CredentialContract, c.cfg.GovernanceContract} {
		code, err := c.backend.CodeAt(ctx, contract, nil)
		if err != nil {
			return fmt.Errorf("ledger: fetch code at %s: %w", contract.Hex(), err)
		}
		if len(code) == 0 {
			return fmt.Errorf("%w: %s", ErrNotDeployed, contract.Hex())
		}
	}
	return nil
}

// TokenIDFromReceipt extracts the minted token id from the first Transfer
// event emitted by the credential contract.
func (c *Client) TokenIDFromReceipt(receipt *gethtypes.Receipt) (*big.Int, error) {
	if receipt == nil {
		return nil, ErrTokenIDNotFound
	}
	for _, log := range receipt.Logs {
		if log == nil || log.Address != c.cfg.CredentialContract {
			continue
		}
		if len(log.Topics) < 4 {
			continue
		}
		if log.Topics[0] != transferEventSignature {
			continue
		}
		return new(big.Int).SetBytes(log.Topics[3].Bytes()), nil
	}
	return nil, ErrTokenIDNotFound
}

// isEstimateRevert reports whether an EstimateGas failure is a simulation
// revert rather than a transport or node fault. Nodes attach revert data
// through the rpc DataError interface; older ones only say so in the
// message.
func isEstimateRevert(err error) bool {
	var dataErr interface{ ErrorData() interface{} }
	if errors.As(err, &dataErr) {
		return true
	}
	return strings.Contains(err.Error(), "execution reverted")
}

// transact runs the estimate, sign, broadcast, await sequence shared by all
// state-changing calls. A revert during estimation is surfaced as a
// GasEstimationError and nothing is broadcast; estimation failures that are
// not reverts come back as plain errors.
func (c *Client) transact(ctx context.Context, method string, to common.Address, data []byte) (*gethtypes.Receipt, error) {
	from := c.OperatorAddress()
	nonce, err := c.backend.PendingNonceAt(ctx, from)
	if err != nil {
		return nil, fmt.Errorf("ledger: fetch nonce: %w", err)
	}
	gasPrice, err := c.backend.SuggestGasPrice(ctx)
	if err != nil {
		return nil, fmt.Errorf("ledger: suggest gas price: %w", err)
	}
	gas, err := c.backend.EstimateGas(ctx, ethereum.CallMsg{From: from, To: &to, Data: data})
	if err != nil {
		if isEstimateRevert(err) {
			return nil, &GasEstimationError{Method: method, Err: err}
		}
		return nil, fmt.Errorf("ledger: estimate gas for %s: %w", method, err)
	}
	tx := gethtypes.NewTx(&gethtypes.LegacyTx{
		Nonce:    nonce,
		To:       &to,
		Gas:      gas,
		GasPrice: gasPrice,
		Data:     data,
	})
	signed, err := gethtypes.SignTx(tx, gethtypes.LatestSignerForChainID(c.cfg.ChainID), c.signer.PrivateKey())
	if err != nil {
		return nil, fmt.Errorf("ledger: sign %s: %w", method, err)
	}
	if err := c.backend.SendTransaction(ctx, signed); err != nil {
		return nil, fmt.Errorf("ledger: send %s: %w", method, err)
	}
	c.logger.Info("transaction submitted", "method", method, "tx", signed.Hash().Hex(), "nonce", nonce)

	receipt, err := c.awaitReceipt(ctx, signed.Hash())
	if err != nil {
		return nil, err
	}
	if receipt.Status != gethtypes.ReceiptStatusSuccessful {
		return receipt, fmt.Errorf("ledger: transaction %s reverted", signed.Hash().Hex())
	}
	return receipt, nil
}

func (c *Client) awaitReceipt(ctx context.Context, txHash common.Hash) (*gethtypes.Receipt, error) {
	deadline := time.NewTimer(c.cfg.ReceiptTimeout)
	defer deadline.Stop()
	ticker := time.NewTicker(c.cfg.PollInterval)
	defer ticker.Stop()

	for {
		receipt, err := c.backend.TransactionReceipt(ctx, txHash)
		if err == nil && receipt != nil {
			return receipt, nil
		}
		if err != nil && !errors.Is(err, ethereum.NotFound) {
			return nil, fmt.Errorf("ledger: fetch receipt: %w", err)
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-deadline.C:
			return nil, fmt.Errorf("ledger: receipt for %s not found within %s", txHash.Hex(), c.cfg.ReceiptTimeout)
		case <-ticker.C:
		}
	}
}
