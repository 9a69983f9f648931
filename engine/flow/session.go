package flow

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/nexusflow/flowcore/engine/core"
)

// StepRecord is one entry in a session's per-step audit trail.
type StepRecord struct {
	BlockName     string         `json:"blockName"`
	Success       bool           `json:"success"`
	Data          map[string]any `json:"data,omitempty"`
	Error         string         `json:"error,omitempty"`
	ExecutionTime int64          `json:"executionTime"` // milliseconds
}

// Session is one in-progress (or completed) execution of a Flow.
type Session struct {
	ID               core.ID         `json:"id"`
	FlowName         string          `json:"flowName"`
	ConnectorID      core.ID         `json:"connectorId"`
	CurrentStepIndex int             `json:"currentStepIndex"`
	CurrentBlockName string          `json:"currentBlockName"`
	Context          map[string]any  `json:"context"`
	Steps            []StepRecord    `json:"steps"`
	IsComplete       bool            `json:"isComplete"`
	Error            string          `json:"error,omitempty"`
	Result           map[string]any  `json:"result,omitempty"`
	CreatedAt        time.Time       `json:"createdAt"`

	everReturned bool
	mu           sync.Mutex
}

// NextStep describes the block a caller must render and resolve before the
// flow can proceed.
type NextStep struct {
	BlockName           string        `json:"blockName"`
	RequiresInteraction bool          `json:"requiresInteraction"`
	Label               string        `json:"label,omitempty"`
	Description         string        `json:"description,omitempty"`
	RenderConfig        *RenderConfig `json:"renderConfig,omitempty"`
}

// StepResult is the uniform return shape of every non-creation Manager call.
type StepResult struct {
	SessionID  core.ID         `json:"sessionId"`
	IsComplete bool            `json:"isComplete"`
	Success    bool            `json:"success"`
	Data       map[string]any  `json:"data,omitempty"`
	Error      string          `json:"error,omitempty"`
	NextStep   *NextStep       `json:"nextStep,omitempty"`
}

// Manager is the resumable flow session state machine: it creates sessions,
// advances them one interactive step at a time (auto-running any
// non-interactive blocks in between), and reaps sessions past their TTL.
//
// Concurrency: each session has its own mutex so ExecuteStep calls for a
// single sessionID are strictly serialized, while distinct sessions advance
// independently, per the spec's concurrency model.
type Manager struct {
	ttl       time.Duration
	evaluator *Evaluator

	mu       sync.RWMutex
	sessions map[core.ID]*Session

	sweepDone chan struct{}
	sweepOnce sync.Once
}

const defaultSessionTTL = 30 * time.Minute
const sweepInterval = 5 * time.Minute

// NewManager creates a Manager with the given TTL (zero uses the 30-minute
// spec default) and starts its background TTL sweep.
func NewManager(ttl time.Duration, evaluator *Evaluator) *Manager {
	if ttl <= 0 {
		ttl = defaultSessionTTL
	}
	m := &Manager{
		ttl:       ttl,
		evaluator: evaluator,
		sessions:  make(map[core.ID]*Session),
		sweepDone: make(chan struct{}),
	}
	go m.sweepLoop()
	return m
}

// Close stops the TTL sweep goroutine. Idempotent.
func (m *Manager) Close() {
	m.sweepOnce.Do(func() { close(m.sweepDone) })
}

// CreateSession starts a new flow session. The caller must follow up with
// ExecuteStep(sessionID, flow, nil) to obtain the descriptor of the first
// interactive block (or the terminal result, if the flow begins with no
// interactive blocks at all).
func (m *Manager) CreateSession(connectorID core.ID, f *Flow, initialContext map[string]any) (*Session, error) {
	if f == nil || f.Len() == 0 {
		return nil, core.Errorf(core.CodeInvalidArgument, "flow: cannot start a session for an empty flow")
	}
	id, err := core.NewID()
	if err != nil {
		return nil, core.NewError(err, core.CodeInternal, nil)
	}
	ctx := make(map[string]any, len(initialContext))
	for k, v := range initialContext {
		ctx[k] = v
	}
	session := &Session{
		ID:               id,
		FlowName:         f.Name,
		ConnectorID:      connectorID,
		CurrentStepIndex: 0,
		CurrentBlockName: f.BlockOrder[0],
		Context:          ctx,
		Steps:            make([]StepRecord, 0, f.Len()),
		CreatedAt:        time.Now(),
	}
	m.mu.Lock()
	m.sessions[id] = session
	m.mu.Unlock()
	return session, nil
}

// Get returns a live (non-expired) session, or a SessionExpired error if it
// never existed or is past its TTL.
func (m *Manager) Get(id core.ID) (*Session, error) {
	m.mu.RLock()
	session, ok := m.sessions[id]
	m.mu.RUnlock()
	if !ok {
		return nil, core.Errorf(core.CodeSessionExpired, "flow: session %q does not exist", id)
	}
	if m.expired(session) {
		return nil, core.Errorf(core.CodeSessionExpired, "flow: session %q expired", id)
	}
	return session, nil
}

// Delete removes a session. A missing session is not an error: deletion is
// idempotent.
func (m *Manager) Delete(id core.ID) {
	m.mu.Lock()
	delete(m.sessions, id)
	m.mu.Unlock()
}

func (m *Manager) expired(s *Session) bool {
	return time.Since(s.CreatedAt) > m.ttl
}

// ExecuteStep advances session id by one interactive step. userInput is nil
// when the caller is merely asking for the current (or very first)
// interactive block's descriptor.
func (m *Manager) ExecuteStep(ctx context.Context, id core.ID, f *Flow, userInput map[string]any) (*StepResult, error) {
	session, err := m.Get(id)
	if err != nil {
		return nil, err
	}

	session.mu.Lock()
	defer session.mu.Unlock()

	if session.IsComplete {
		return terminalResult(session), nil
	}

	block := f.Blocks[session.CurrentBlockName]
	if block == nil {
		return nil, core.Errorf(core.CodeInternal, "flow: session %q references unknown block %q", id, session.CurrentBlockName)
	}

	if block.RequiresInteraction {
		if userInput == nil {
			if !session.everReturned {
				session.everReturned = true
				return m.describeNextStep(ctx, session, block)
			}
			// A later poll with no input re-describes the pending step
			// rather than failing, so a caller can safely re-fetch the
			// current render descriptor after a reconnect.
			return m.describeNextStep(ctx, session, block)
		}
		if err := validateInteractiveInput(block, userInput); err != nil {
			return m.failSession(session, block, err), nil
		}
		if err := m.advance(session, f, block, userInput, 0); err != nil {
			return m.failSession(session, block, err), nil
		}
	} else {
		// A non-creation call landing on a non-interactive current block
		// means a previous call already advanced past every interactive
		// block; auto-advance below will finish the run.
	}

	if err := m.autoAdvance(ctx, session, f); err != nil {
		return terminalResult(session), nil
	}

	if session.IsComplete {
		return m.finalize(session, f), nil
	}

	nextBlock := f.Blocks[session.CurrentBlockName]
	return m.describeNextStep(ctx, session, nextBlock)
}

func validateInteractiveInput(block *Block, input map[string]any) error {
	if block.Kind != KindForm {
		return nil
	}
	for _, field := range block.Form {
		if !field.Required {
			continue
		}
		if v, ok := input[field.Name]; !ok || v == nil || v == "" {
			return fmt.Errorf("missing required field %q", field.Name)
		}
	}
	return nil
}

// advance records a completed step's output and moves currentStepIndex
// forward.
func (m *Manager) advance(session *Session, f *Flow, block *Block, output map[string]any, executionTime time.Duration) error {
	session.Context[block.Name] = output
	session.Steps = append(session.Steps, StepRecord{
		BlockName: block.Name, Success: true, Data: output, ExecutionTime: executionTime.Milliseconds(),
	})
	session.CurrentStepIndex++
	if session.CurrentStepIndex < f.Len() {
		session.CurrentBlockName = f.BlockOrder[session.CurrentStepIndex]
	} else {
		session.CurrentBlockName = ""
	}
	return nil
}

// autoAdvance runs consecutive non-interactive blocks until the session
// reaches an interactive block or completion. This is the suspension rule:
// ExecuteStep only ever returns at an interactive block or at completion.
func (m *Manager) autoAdvance(ctx context.Context, session *Session, f *Flow) error {
	for session.CurrentStepIndex < f.Len() {
		block := f.Blocks[session.CurrentBlockName]
		if block == nil {
			return fmt.Errorf("unknown block %q", session.CurrentBlockName)
		}
		if block.RequiresInteraction {
			return nil
		}
		start := time.Now()
		output, err := Run(ctx, block, m.evaluator, session.Context)
		elapsed := time.Since(start)
		if err != nil {
			session.Steps = append(session.Steps, StepRecord{
				BlockName: block.Name, Success: false, Error: err.Error(), ExecutionTime: elapsed.Milliseconds(),
			})
			session.IsComplete = true
			session.Error = err.Error()
			return err
		}
		if output == nil {
			output = map[string]any{}
		}
		if err := m.advance(session, f, block, output, elapsed); err != nil {
			return err
		}
	}
	session.IsComplete = true
	return nil
}

func (m *Manager) finalize(session *Session, f *Flow) *StepResult {
	if f.ReturnTransform != nil {
		result, err := f.ReturnTransform(context.Background(), session.Context)
		if err != nil {
			session.Error = err.Error()
			return &StepResult{SessionID: session.ID, IsComplete: true, Success: false, Error: err.Error()}
		}
		session.Result = result
	}
	return terminalResult(session)
}

func terminalResult(session *Session) *StepResult {
	if session.Error != "" {
		return &StepResult{SessionID: session.ID, IsComplete: true, Success: false, Error: session.Error}
	}
	return &StepResult{SessionID: session.ID, IsComplete: true, Success: true, Data: session.Result}
}

func (m *Manager) failSession(session *Session, block *Block, err error) *StepResult {
	session.IsComplete = true
	session.Error = err.Error()
	session.Steps = append(session.Steps, StepRecord{BlockName: block.Name, Success: false, Error: err.Error()})
	return terminalResult(session)
}

func (m *Manager) describeNextStep(ctx context.Context, session *Session, block *Block) (*StepResult, error) {
	render, err := block.Render(ctx, m.evaluator, session.Context)
	if err != nil {
		return nil, err
	}
	return &StepResult{
		SessionID:  session.ID,
		IsComplete: false,
		Success:    true,
		NextStep: &NextStep{
			BlockName:           block.Name,
			RequiresInteraction: true,
			Label:               block.Label,
			Description:         block.Description,
			RenderConfig:        render,
		},
	}, nil
}

func (m *Manager) sweepLoop() {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			m.sweep()
		case <-m.sweepDone:
			return
		}
	}
}

// sweep removes expired sessions. It snapshots candidate IDs under the
// manager's read lock, then re-checks and deletes under the write lock. A
// session whose per-session mutex is held (ExecuteStep holds it for its
// whole duration) is skipped and left for a later sweep, so a sweep can
// never remove a session mid-ExecuteStep.
func (m *Manager) sweep() {
	m.mu.RLock()
	expiredIDs := make([]core.ID, 0)
	for id, s := range m.sessions {
		if m.expired(s) {
			expiredIDs = append(expiredIDs, id)
		}
	}
	m.mu.RUnlock()
	if len(expiredIDs) == 0 {
		return
	}
	m.mu.Lock()
	for _, id := range expiredIDs {
		if s, ok := m.sessions[id]; ok && m.expired(s) && s.mu.TryLock() {
			delete(m.sessions, id)
			s.mu.Unlock()
		}
	}
	m.mu.Unlock()
}
