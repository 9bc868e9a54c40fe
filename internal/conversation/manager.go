// internal/conversation/manager.go
package conversation

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/Corphon/SceneChronicle/internal/models"
	"github.com/Corphon/SceneChronicle/internal/utils"
	"github.com/Corphon/SceneChronicle/internal/visual"
)

// Store is what the manager needs to load and save sessions.
type Store interface {
	Persister
	GetScenario(ctx context.Context, id string) (*models.Scenario, error)
	GetCharacter(ctx context.Context, id string) (*models.Character, error)
	GetMessages(ctx context.Context, scenarioID string) ([]models.Message, error)
}

// ManagerOptions 会话管理器参数
type ManagerOptions struct {
	Deps       Deps // 共享依赖；Cadence 与 Persister 由管理器按会话设置
	VisualMin  int
	VisualMax  int
	SessionTTL time.Duration
	// NewRand returns the random source of a new session's cadence.
	NewRand func() *rand.Rand
}

// sessionEntry 包装会话和最近使用时间
type sessionEntry struct {
	session  *Session
	lastUsed time.Time
}

// Manager keeps one live session per scenario, loading it from the store
// on first use and evicting idle sessions after a TTL.
type Manager struct {
	store      Store
	opts       ManagerOptions
	sessions   map[string]*sessionEntry
	globalLock sync.RWMutex

	cleanupTicker *time.Ticker
	stop          chan struct{}
	stopOnce      sync.Once
	logger        *utils.Logger
}

// NewManager 创建会话管理器并启动清理器
func NewManager(store Store, opts ManagerOptions) *Manager {
	if opts.SessionTTL <= 0 {
		opts.SessionTTL = 30 * time.Minute
	}
	if opts.NewRand == nil {
		opts.NewRand = func() *rand.Rand {
			return rand.New(rand.NewSource(time.Now().UnixNano()))
		}
	}
	m := &Manager{
		store:    store,
		opts:     opts,
		sessions: make(map[string]*sessionEntry),
		stop:     make(chan struct{}),
		logger:   utils.GetLogger(),
	}
	m.startCleanup()
	return m
}

// Get returns the live session of a scenario, loading it when needed.
func (m *Manager) Get(ctx context.Context, scenarioID string) (*Session, error) {
	m.globalLock.RLock()
	if entry, exists := m.sessions[scenarioID]; exists {
		m.globalLock.RUnlock()
		m.touch(scenarioID)
		return entry.session, nil
	}
	m.globalLock.RUnlock()

	scenario, characters, history, err := m.load(ctx, scenarioID)
	if err != nil {
		return nil, err
	}

	m.globalLock.Lock()
	defer m.globalLock.Unlock()

	// 双重检查
	if entry, exists := m.sessions[scenarioID]; exists {
		entry.lastUsed = time.Now()
		return entry.session, nil
	}

	deps := m.opts.Deps
	deps.Persister = m.store
	deps.Cadence = visual.NewCadence(m.opts.VisualMin, m.opts.VisualMax, m.opts.NewRand())

	session, err := NewSession(*scenario, characters, history, deps)
	if err != nil {
		return nil, err
	}
	m.sessions[scenarioID] = &sessionEntry{session: session, lastUsed: time.Now()}
	m.logger.Info("Session loaded", map[string]interface{}{
		"scenario_id": scenarioID,
		"characters":  len(characters),
		"messages":    len(history),
	})
	return session, nil
}

func (m *Manager) touch(scenarioID string) {
	m.globalLock.Lock()
	if entry, exists := m.sessions[scenarioID]; exists {
		entry.lastUsed = time.Now()
	}
	m.globalLock.Unlock()
}

func (m *Manager) load(ctx context.Context, scenarioID string) (*models.Scenario, []models.Character, []models.Message, error) {
	scenario, err := m.store.GetScenario(ctx, scenarioID)
	if err != nil {
		return nil, nil, nil, err
	}
	characters, err := m.participants(ctx, scenario)
	if err != nil {
		return nil, nil, nil, err
	}
	history, err := m.store.GetMessages(ctx, scenarioID)
	if err != nil {
		return nil, nil, nil, err
	}
	return scenario, characters, history, nil
}

// participants resolves the scenario's character ids. Characters that
// no longer exist are skipped.
func (m *Manager) participants(ctx context.Context, scenario *models.Scenario) ([]models.Character, error) {
	out := make([]models.Character, 0, len(scenario.CharacterIDs))
	for _, id := range scenario.CharacterIDs {
		c, err := m.store.GetCharacter(ctx, id)
		if err != nil {
			m.logger.Warn("Scenario references missing character", map[string]interface{}{
				"scenario_id":  scenario.ID,
				"character_id": id,
				"error":        err.Error(),
			})
			continue
		}
		out = append(out, *c)
	}
	return out, nil
}

// Refresh reloads a live session's settings after the scenario or one
// of its characters was edited. Sessions not in memory are left alone.
func (m *Manager) Refresh(ctx context.Context, scenarioID string) error {
	m.globalLock.RLock()
	entry, exists := m.sessions[scenarioID]
	m.globalLock.RUnlock()
	if !exists {
		return nil
	}

	scenario, err := m.store.GetScenario(ctx, scenarioID)
	if err != nil {
		return err
	}
	characters, err := m.participants(ctx, scenario)
	if err != nil {
		return err
	}
	entry.session.Refresh(*scenario, characters)
	return nil
}

// RefreshCharacter refreshes every live session the character takes part in.
func (m *Manager) RefreshCharacter(ctx context.Context, characterID string) {
	m.globalLock.RLock()
	var ids []string
	for id, entry := range m.sessions {
		for _, cid := range entry.session.Scenario().CharacterIDs {
			if cid == characterID {
				ids = append(ids, id)
				break
			}
		}
	}
	m.globalLock.RUnlock()

	for _, id := range ids {
		if err := m.Refresh(ctx, id); err != nil {
			m.logger.Warn("Failed to refresh session", map[string]interface{}{"scenario_id": id, "error": err.Error()})
		}
	}
}

// Evict closes and drops a session, refusing while it has work in flight.
func (m *Manager) Evict(scenarioID string) error {
	m.globalLock.Lock()
	entry, exists := m.sessions[scenarioID]
	if !exists {
		m.globalLock.Unlock()
		return nil
	}
	if !entry.session.Idle() {
		m.globalLock.Unlock()
		return ErrSessionBusy
	}
	delete(m.sessions, scenarioID)
	m.globalLock.Unlock()

	entry.session.Close()
	return nil
}

// Len 当前内存中的会话数
func (m *Manager) Len() int {
	m.globalLock.RLock()
	defer m.globalLock.RUnlock()
	return len(m.sessions)
}

// 定期清理长时间未使用的会话
func (m *Manager) startCleanup() {
	m.cleanupTicker = time.NewTicker(5 * time.Minute)
	go func() {
		for {
			select {
			case <-m.cleanupTicker.C:
				m.cleanupIdleSessions(time.Now())
			case <-m.stop:
				return
			}
		}
	}()
}

func (m *Manager) cleanupIdleSessions(now time.Time) {
	m.globalLock.Lock()
	var closing []*Session
	for id, entry := range m.sessions {
		if now.Sub(entry.lastUsed) > m.opts.SessionTTL && entry.session.Idle() {
			closing = append(closing, entry.session)
			delete(m.sessions, id)
		}
	}
	m.globalLock.Unlock()

	for _, s := range closing {
		s.Close()
		m.logger.Debug("Idle session evicted", map[string]interface{}{"scenario_id": s.ID()})
	}
}

// Close stops the cleaner and closes every session.
func (m *Manager) Close() {
	m.stopOnce.Do(func() {
		m.cleanupTicker.Stop()
		close(m.stop)
	})

	m.globalLock.Lock()
	sessions := make([]*Session, 0, len(m.sessions))
	for id, entry := range m.sessions {
		sessions = append(sessions, entry.session)
		delete(m.sessions, id)
	}
	m.globalLock.Unlock()

	for _, s := range sessions {
		s.Close()
	}
}
