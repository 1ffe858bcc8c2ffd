package rpc

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"strings"
	"time"

	"stakedrop/crypto"
	"stakedrop/native/airdrop"
	"stakedrop/observability"
)

const (
	codeAirdropInvalidParams = -32061
	codeAirdropNotFound      = -32062
	codeAirdropForbidden     = -32063
	codeAirdropConflict      = -32064
	codeAirdropInternal      = -32065
)

var errInvalidParams = errors.New("invalid_params")

func invalidParams(err error) error {
	return fmt.Errorf("%w: %v", errInvalidParams, err)
}

// errorToRPC maps engine sentinels onto the module's JSON-RPC error codes:
// validation failures, state guards, missing records and authorization each
// get their own code so callers can distinguish retry-later from never.
func errorToRPC(err error) (int, int) {
	switch {
	case errors.Is(err, errInvalidParams),
		errors.Is(err, airdrop.ErrInvalidAmount),
		errors.Is(err, airdrop.ErrInvalidProof),
		errors.Is(err, airdrop.ErrInvalidDailyRewards),
		errors.Is(err, airdrop.ErrInvalidCustodyMode),
		errors.Is(err, airdrop.ErrInvalidEpoch),
		errors.Is(err, airdrop.ErrStartTimeInPast):
		return http.StatusBadRequest, codeAirdropInvalidParams
	case errors.Is(err, airdrop.ErrPoolNotFound),
		errors.Is(err, airdrop.ErrStakeNotFound):
		return http.StatusNotFound, codeAirdropNotFound
	case errors.Is(err, airdrop.ErrUnauthorized):
		return http.StatusForbidden, codeAirdropForbidden
	case errors.Is(err, airdrop.ErrPoolExists),
		errors.Is(err, airdrop.ErrPoolNotStarted),
		errors.Is(err, airdrop.ErrPoolPaused),
		errors.Is(err, airdrop.ErrPoolNotPaused),
		errors.Is(err, airdrop.ErrAlreadyPaused),
		errors.Is(err, airdrop.ErrPoolTerminated),
		errors.Is(err, airdrop.ErrAlreadyTerminated),
		errors.Is(err, airdrop.ErrPoolNotTerminated),
		errors.Is(err, airdrop.ErrPoolNotEmpty),
		errors.Is(err, airdrop.ErrPoolExpired),
		errors.Is(err, airdrop.ErrNotExpired),
		errors.Is(err, airdrop.ErrAlreadyClaimed),
		errors.Is(err, airdrop.ErrAirdropExhausted),
		errors.Is(err, airdrop.ErrSnapshotRequired),
		errors.Is(err, airdrop.ErrSnapshotsIncomplete),
		errors.Is(err, airdrop.ErrNothingStaked),
		errors.Is(err, airdrop.ErrNothingToRecover),
		errors.Is(err, airdrop.ErrInsufficientFunds):
		return http.StatusConflict, codeAirdropConflict
	default:
		return http.StatusInternalServerError, codeAirdropInternal
	}
}

// finish records metrics and writes the response for a handled request.
func (s *Server) finish(w http.ResponseWriter, req *RPCRequest, start time.Time, result interface{}, err error) {
	observability.ModuleMetrics().Observe(req.Method, start, err)
	if err != nil {
		status, code := errorToRPC(err)
		writeError(w, status, req.ID, code, err.Error(), nil)
		return
	}
	writeResult(w, req.ID, result)
}

func decodeParams(req *RPCRequest, out interface{}) error {
	if len(req.Params) != 1 {
		return fmt.Errorf("exactly one parameter object expected")
	}
	return json.Unmarshal(req.Params[0], out)
}

func parseBech32Address(raw string) ([20]byte, error) {
	var out [20]byte
	addr, err := crypto.DecodeAddress(strings.TrimSpace(raw))
	if err != nil {
		return out, err
	}
	copy(out[:], addr.Bytes())
	return out, nil
}

func parseHash32(raw string) ([32]byte, error) {
	var out [32]byte
	trimmed := strings.TrimPrefix(strings.TrimSpace(raw), "0x")
	decoded, err := hex.DecodeString(trimmed)
	if err != nil {
		return out, err
	}
	if len(decoded) != 32 {
		return out, fmt.Errorf("expected 32 bytes, got %d", len(decoded))
	}
	copy(out[:], decoded)
	return out, nil
}

func parseAmount(raw string) (*big.Int, error) {
	amount, ok := new(big.Int).SetString(strings.TrimSpace(raw), 10)
	if !ok {
		return nil, fmt.Errorf("invalid decimal amount %q", raw)
	}
	return amount, nil
}

func parseProof(raw []string) ([][32]byte, error) {
	proof := make([][32]byte, len(raw))
	for i, node := range raw {
		decoded, err := parseHash32(node)
		if err != nil {
			return nil, fmt.Errorf("proof node %d: %w", i, err)
		}
		proof[i] = decoded
	}
	return proof, nil
}

func parseCustodyMode(raw string) (airdrop.CustodyMode, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "staked":
		return airdrop.CustodyStaked, nil
	case "distributed":
		return airdrop.CustodyDistributed, nil
	default:
		return 0, fmt.Errorf("unknown custody mode %q", raw)
	}
}

type poolJSON struct {
	ID             string         `json:"id"`
	Admin          string         `json:"admin"`
	Vault          string         `json:"vault"`
	StartTime      int64          `json:"startTime"`
	ExitDeadline   int64          `json:"exitDeadline"`
	Custody        string         `json:"custody"`
	Status         string         `json:"status"`
	TotalStaked    string         `json:"totalStaked"`
	TotalClaimed   string         `json:"totalClaimed"`
	SnapshotCount  uint8          `json:"snapshotCount"`
	DailyRewards   []string       `json:"dailyRewards"`
	DailySnapshots []snapshotJSON `json:"dailySnapshots"`
}

type snapshotJSON struct {
	Total    string `json:"total"`
	Recorded bool   `json:"recorded"`
}

func (s *Server) poolToJSON(pool *airdrop.Pool) poolJSON {
	rewards := make([]string, len(pool.DailyRewards))
	for i, r := range pool.DailyRewards {
		rewards[i] = r.String()
	}
	snapshots := make([]snapshotJSON, len(pool.DailySnapshots))
	for i, snap := range pool.DailySnapshots {
		snapshots[i] = snapshotJSON{Total: snap.Total.String(), Recorded: snap.Recorded}
	}
	vault := s.node.VaultAddress(pool.ID)
	return poolJSON{
		ID:             "0x" + hex.EncodeToString(pool.ID[:]),
		Admin:          crypto.MustNewAddress(crypto.StakePrefix, pool.Admin[:]).String(),
		Vault:          crypto.MustNewAddress(crypto.StakePrefix, vault[:]).String(),
		StartTime:      pool.StartTime,
		ExitDeadline:   airdrop.ExitDeadline(pool.StartTime),
		Custody:        pool.CustodyMode.String(),
		Status:         pool.Status.String(),
		TotalStaked:    pool.TotalStaked.String(),
		TotalClaimed:   pool.TotalClaimed.String(),
		SnapshotCount:  pool.SnapshotCount,
		DailyRewards:   rewards,
		DailySnapshots: snapshots,
	}
}

type airdropInitParams struct {
	Admin        string   `json:"admin"`
	Root         string   `json:"root"`
	StartTime    int64    `json:"startTime"`
	Custody      string   `json:"custody"`
	DailyRewards []string `json:"dailyRewards"`
}

func (s *Server) handleAirdropInit(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	start := time.Now()
	if authErr := s.requireAuth(r); authErr != nil {
		writeError(w, http.StatusUnauthorized, req.ID, authErr.Code, authErr.Message, authErr.Data)
		return
	}
	var params airdropInitParams
	if err := decodeParams(req, &params); err != nil {
		s.finish(w, req, start, nil, invalidParams(err))
		return
	}
	admin, err := parseBech32Address(params.Admin)
	if err != nil {
		s.finish(w, req, start, nil, invalidParams(err))
		return
	}
	root, err := parseHash32(params.Root)
	if err != nil {
		s.finish(w, req, start, nil, invalidParams(err))
		return
	}
	mode, err := parseCustodyMode(params.Custody)
	if err != nil {
		s.finish(w, req, start, nil, invalidParams(err))
		return
	}
	rewards := make([]*big.Int, len(params.DailyRewards))
	for i, raw := range params.DailyRewards {
		amount, err := parseAmount(raw)
		if err != nil {
			s.finish(w, req, start, nil, invalidParams(err))
			return
		}
		rewards[i] = amount
	}
	pool, err := s.node.InitializePool(admin, root, params.StartTime, mode, rewards)
	if err != nil {
		s.finish(w, req, start, nil, err)
		return
	}
	s.finish(w, req, start, s.poolToJSON(pool), nil)
}

type airdropClaimParams struct {
	Pool      string   `json:"pool"`
	Recipient string   `json:"recipient"`
	Amount    string   `json:"amount"`
	Proof     []string `json:"proof"`
}

type airdropClaimResult struct {
	Pool       string `json:"pool"`
	Recipient  string `json:"recipient"`
	Amount     string `json:"amount"`
	ClaimEpoch uint64 `json:"claimEpoch"`
}

func (s *Server) handleAirdropClaim(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	start := time.Now()
	var params airdropClaimParams
	if err := decodeParams(req, &params); err != nil {
		s.finish(w, req, start, nil, invalidParams(err))
		return
	}
	poolID, err := parseHash32(params.Pool)
	if err != nil {
		s.finish(w, req, start, nil, invalidParams(err))
		return
	}
	recipient, err := parseBech32Address(params.Recipient)
	if err != nil {
		s.finish(w, req, start, nil, invalidParams(err))
		return
	}
	amount, err := parseAmount(params.Amount)
	if err != nil {
		s.finish(w, req, start, nil, invalidParams(err))
		return
	}
	proof, err := parseProof(params.Proof)
	if err != nil {
		s.finish(w, req, start, nil, invalidParams(err))
		return
	}
	stake, err := s.node.Claim(poolID, recipient, amount, proof)
	if err != nil {
		s.finish(w, req, start, nil, err)
		return
	}
	s.finish(w, req, start, airdropClaimResult{
		Pool:       params.Pool,
		Recipient:  params.Recipient,
		Amount:     stake.Amount.String(),
		ClaimEpoch: stake.ClaimEpoch,
	}, nil)
}

type airdropPoolParams struct {
	Pool string `json:"pool"`
}

type airdropSnapshotResult struct {
	SlotsWritten int `json:"slotsWritten"`
}

func (s *Server) handleAirdropSnapshot(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	start := time.Now()
	var params airdropPoolParams
	if err := decodeParams(req, &params); err != nil {
		s.finish(w, req, start, nil, invalidParams(err))
		return
	}
	poolID, err := parseHash32(params.Pool)
	if err != nil {
		s.finish(w, req, start, nil, invalidParams(err))
		return
	}
	written, err := s.node.Snapshot(poolID)
	if err != nil {
		s.finish(w, req, start, nil, err)
		return
	}
	s.finish(w, req, start, airdropSnapshotResult{SlotsWritten: written}, nil)
}

type airdropOwnerParams struct {
	Pool  string `json:"pool"`
	Owner string `json:"owner"`
}

type airdropUnstakeResult struct {
	Principal string `json:"principal"`
	Rewards   string `json:"rewards"`
}

func (s *Server) handleAirdropUnstake(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	start := time.Now()
	var params airdropOwnerParams
	if err := decodeParams(req, &params); err != nil {
		s.finish(w, req, start, nil, invalidParams(err))
		return
	}
	poolID, err := parseHash32(params.Pool)
	if err != nil {
		s.finish(w, req, start, nil, invalidParams(err))
		return
	}
	owner, err := parseBech32Address(params.Owner)
	if err != nil {
		s.finish(w, req, start, nil, invalidParams(err))
		return
	}
	principal, rewards, err := s.node.Unstake(poolID, owner)
	if err != nil {
		s.finish(w, req, start, nil, err)
		return
	}
	s.finish(w, req, start, airdropUnstakeResult{
		Principal: principal.String(),
		Rewards:   rewards.String(),
	}, nil)
}

type airdropPreviewParams struct {
	Pool  string  `json:"pool"`
	Owner string  `json:"owner"`
	Epoch *uint64 `json:"epoch,omitempty"`
}

type airdropPreviewResult struct {
	Rewards string `json:"rewards"`
}

func (s *Server) handleAirdropPreviewRewards(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	start := time.Now()
	var params airdropPreviewParams
	if err := decodeParams(req, &params); err != nil {
		s.finish(w, req, start, nil, invalidParams(err))
		return
	}
	poolID, err := parseHash32(params.Pool)
	if err != nil {
		s.finish(w, req, start, nil, invalidParams(err))
		return
	}
	owner, err := parseBech32Address(params.Owner)
	if err != nil {
		s.finish(w, req, start, nil, invalidParams(err))
		return
	}
	var rewards *big.Int
	if params.Epoch != nil {
		rewards, err = s.node.PreviewReward(poolID, owner, *params.Epoch)
	} else {
		rewards, err = s.node.PreviewAccrued(poolID, owner)
	}
	if err != nil {
		s.finish(w, req, start, nil, err)
		return
	}
	s.finish(w, req, start, airdropPreviewResult{Rewards: rewards.String()}, nil)
}

type airdropAdminParams struct {
	Pool   string `json:"pool"`
	Caller string `json:"caller"`
}

type airdropOKResult struct {
	OK bool `json:"ok"`
}

type airdropSweepResult struct {
	Amount string `json:"amount"`
}

func (s *Server) adminCall(w http.ResponseWriter, r *http.Request, req *RPCRequest, call func(poolID [32]byte, caller [20]byte) (interface{}, error)) {
	start := time.Now()
	if authErr := s.requireAuth(r); authErr != nil {
		writeError(w, http.StatusUnauthorized, req.ID, authErr.Code, authErr.Message, authErr.Data)
		return
	}
	var params airdropAdminParams
	if err := decodeParams(req, &params); err != nil {
		s.finish(w, req, start, nil, invalidParams(err))
		return
	}
	poolID, err := parseHash32(params.Pool)
	if err != nil {
		s.finish(w, req, start, nil, invalidParams(err))
		return
	}
	caller, err := parseBech32Address(params.Caller)
	if err != nil {
		s.finish(w, req, start, nil, invalidParams(err))
		return
	}
	result, err := call(poolID, caller)
	if err != nil {
		s.finish(w, req, start, nil, err)
		return
	}
	s.finish(w, req, start, result, nil)
}

func (s *Server) handleAirdropPause(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	s.adminCall(w, r, req, func(poolID [32]byte, caller [20]byte) (interface{}, error) {
		if err := s.node.PausePool(poolID, caller); err != nil {
			return nil, err
		}
		return airdropOKResult{OK: true}, nil
	})
}

func (s *Server) handleAirdropUnpause(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	s.adminCall(w, r, req, func(poolID [32]byte, caller [20]byte) (interface{}, error) {
		if err := s.node.UnpausePool(poolID, caller); err != nil {
			return nil, err
		}
		return airdropOKResult{OK: true}, nil
	})
}

func (s *Server) handleAirdropTerminate(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	s.adminCall(w, r, req, func(poolID [32]byte, caller [20]byte) (interface{}, error) {
		drained, err := s.node.TerminatePool(poolID, caller)
		if err != nil {
			return nil, err
		}
		return airdropSweepResult{Amount: drained.String()}, nil
	})
}

func (s *Server) handleAirdropRecover(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	s.adminCall(w, r, req, func(poolID [32]byte, caller [20]byte) (interface{}, error) {
		recovered, err := s.node.RecoverPool(poolID, caller)
		if err != nil {
			return nil, err
		}
		return airdropSweepResult{Amount: recovered.String()}, nil
	})
}

func (s *Server) handleAirdropClose(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	s.adminCall(w, r, req, func(poolID [32]byte, caller [20]byte) (interface{}, error) {
		if err := s.node.ClosePool(poolID, caller); err != nil {
			return nil, err
		}
		return airdropOKResult{OK: true}, nil
	})
}

func (s *Server) handleAirdropGetPool(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	start := time.Now()
	var params airdropPoolParams
	if err := decodeParams(req, &params); err != nil {
		s.finish(w, req, start, nil, invalidParams(err))
		return
	}
	poolID, err := parseHash32(params.Pool)
	if err != nil {
		s.finish(w, req, start, nil, invalidParams(err))
		return
	}
	pool, err := s.node.GetPool(poolID)
	if err != nil {
		s.finish(w, req, start, nil, err)
		return
	}
	s.finish(w, req, start, s.poolToJSON(pool), nil)
}

type stakeJSON struct {
	Owner      string `json:"owner"`
	Amount     string `json:"amount"`
	ClaimEpoch uint64 `json:"claimEpoch"`
}

func (s *Server) handleAirdropGetStake(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	start := time.Now()
	var params airdropOwnerParams
	if err := decodeParams(req, &params); err != nil {
		s.finish(w, req, start, nil, invalidParams(err))
		return
	}
	poolID, err := parseHash32(params.Pool)
	if err != nil {
		s.finish(w, req, start, nil, invalidParams(err))
		return
	}
	owner, err := parseBech32Address(params.Owner)
	if err != nil {
		s.finish(w, req, start, nil, invalidParams(err))
		return
	}
	stake, err := s.node.GetStake(poolID, owner)
	if err != nil {
		s.finish(w, req, start, nil, err)
		return
	}
	s.finish(w, req, start, stakeJSON{
		Owner:      params.Owner,
		Amount:     stake.Amount.String(),
		ClaimEpoch: stake.ClaimEpoch,
	}, nil)
}

type balanceParams struct {
	Address string `json:"address"`
}

type balanceResult struct {
	Address string `json:"address"`
	Balance string `json:"balance"`
}

func (s *Server) handleGetBalance(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	start := time.Now()
	var params balanceParams
	if err := decodeParams(req, &params); err != nil {
		s.finish(w, req, start, nil, invalidParams(err))
		return
	}
	addr, err := parseBech32Address(params.Address)
	if err != nil {
		s.finish(w, req, start, nil, invalidParams(err))
		return
	}
	balance, err := s.node.GetBalance(addr)
	if err != nil {
		s.finish(w, req, start, nil, err)
		return
	}
	s.finish(w, req, start, balanceResult{Address: params.Address, Balance: balance.String()}, nil)
}

func (s *Server) handleGetEvents(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	start := time.Now()
	s.finish(w, req, start, s.node.Events(), nil)
}
