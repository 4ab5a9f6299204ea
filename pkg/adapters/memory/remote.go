package memory

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"path"
	"strings"
	"sync"

	"github.com/aretw0/forkline/pkg/domain"
	"github.com/aretw0/forkline/pkg/ports"
)

// ErrBadCredentials is returned by a Remote whose token is not registered.
var ErrBadCredentials = errors.New("bad credentials")

// Remote operation names accepted by Service.FailNext and Service.Calls.
const (
	OpUsername            = "Username"
	OpRepoExists          = "RepoExists"
	OpCreateFork          = "CreateFork"
	OpDeleteRepo          = "DeleteRepo"
	OpAutomationTriggerID = "AutomationTriggerID"
	OpEnableAutomation    = "EnableAutomation"
	OpDisableAutomation   = "DisableAutomation"
	OpDispatchAutomation  = "DispatchAutomation"
	OpLatestRun           = "LatestRun"
	OpRun                 = "Run"
	OpUsage               = "Usage"
	OpRepoPublicKey       = "RepoPublicKey"
	OpSetSecret           = "SetSecret"
	OpSecretExists        = "SecretExists"
)

type trigger struct {
	id      int64
	path    string
	enabled bool
}

// Service is an in-memory remote workspace service shared by every identity.
// It records calls and can inject failures per operation.
// Safe for concurrent use.
type Service struct {
	mu sync.Mutex

	logins   map[string]string // token -> login
	repos    map[string]bool
	triggers map[string][]*trigger
	runs     map[string][]ports.RunStatus
	usage    map[string]domain.Usage
	pending  map[string]int
	failures map[string][]error
	calls    map[string]int
	bindings map[string]*domain.ProxyBinding
	secrets  map[string]map[string]domain.SealedSecret // repo -> name -> value
	hidden   map[string]int                            // repo/name -> lookups before visible

	readyDelay  int
	secretDelay int
	nextID      int64
}

// NewService creates an empty service.
func NewService() *Service {
	return &Service{
		logins:   make(map[string]string),
		repos:    make(map[string]bool),
		triggers: make(map[string][]*trigger),
		runs:     make(map[string][]ports.RunStatus),
		usage:    make(map[string]domain.Usage),
		pending:  make(map[string]int),
		failures: make(map[string][]error),
		calls:    make(map[string]int),
		bindings: make(map[string]*domain.ProxyBinding),
		secrets:  make(map[string]map[string]domain.SealedSecret),
		hidden:   make(map[string]int),
		nextID:   1000,
	}
}

// AddIdentity registers a token and the login it authenticates as.
func (s *Service) AddIdentity(token, login string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logins[token] = login
}

// AddRepo creates a workspace.
func (s *Service) AddRepo(repo string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.repos[repo] = true
}

// AddTrigger attaches an automation trigger to repo.
func (s *Service) AddTrigger(repo, triggerPath string, enabled bool) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	s.triggers[repo] = append(s.triggers[repo], &trigger{id: s.nextID, path: triggerPath, enabled: enabled})
	return s.nextID
}

// SetUsage sets the usage report returned for login.
func (s *Service) SetUsage(login string, usage domain.Usage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.usage[login] = usage
}

// SetReadyDelay makes every new fork report absent for n existence checks.
func (s *Service) SetReadyDelay(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.readyDelay = n
}

// SetRunStatus updates a recorded run.
func (s *Service) SetRunStatus(repo string, runID int64, status, conclusion string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.runs[repo] {
		if s.runs[repo][i].ID == runID {
			s.runs[repo][i].Status = status
			s.runs[repo][i].Conclusion = conclusion
		}
	}
}

// FailNext queues errors returned by the next calls of op, in order.
func (s *Service) FailNext(op string, errs ...error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[op] = append(s.failures[op], errs...)
}

// SetSecretDelay makes a newly set secret invisible to the next n SecretExists calls.
func (s *Service) SetSecretDelay(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.secretDelay = n
}

// Secret returns the sealed secret stored under repo and name.
func (s *Service) Secret(repo, name string) (domain.SealedSecret, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sealed, ok := s.secrets[repo][name]
	return sealed, ok
}

// PublicKeyOf returns the deterministic secrets key of repo.
func PublicKeyOf(repo string) domain.PublicKey {
	sum := sha256.Sum256([]byte(repo))
	return domain.PublicKey{
		KeyID: fmt.Sprintf("%x", sum[:4]),
		Key:   base64.StdEncoding.EncodeToString(sum[:]),
	}
}

// Calls reports how many times op was invoked.
func (s *Service) Calls(op string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[op]
}

// Exists reports whether repo currently exists.
func (s *Service) Exists(repo string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.repos[repo]
}

// TriggerEnabled reports whether the first trigger of repo is enabled.
func (s *Service) TriggerEnabled(repo string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	ts := s.triggers[repo]
	return len(ts) > 0 && ts[0].enabled
}

// Runs returns the recorded runs of repo, oldest first.
func (s *Service) Runs(repo string) []ports.RunStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]ports.RunStatus(nil), s.runs[repo]...)
}

// BindingFor returns the proxy binding the token last connected through.
func (s *Service) BindingFor(token string) *domain.ProxyBinding {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bindings[token]
}

// Connect implements ports.Connector.
func (s *Service) Connect(identity domain.Identity, binding *domain.ProxyBinding) (ports.Remote, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bindings[identity.Token] = binding
	return &Remote{svc: s, token: identity.Token}, nil
}

// enter records a call and pops an injected failure. Callers hold s.mu.
func (s *Service) enter(op string) error {
	s.calls[op]++
	queue := s.failures[op]
	if len(queue) == 0 {
		return nil
	}
	err := queue[0]
	s.failures[op] = queue[1:]
	return err
}

func (s *Service) findTrigger(repo, hint string) *trigger {
	for _, t := range s.triggers[repo] {
		if strings.Contains(t.path, hint) {
			return t
		}
	}
	return nil
}

func (s *Service) triggerByID(repo string, id int64) *trigger {
	for _, t := range s.triggers[repo] {
		if t.id == id {
			return t
		}
	}
	return nil
}

// Remote is one identity's view of a Service.
type Remote struct {
	svc   *Service
	token string
}

var _ ports.Remote = (*Remote)(nil)

func (r *Remote) login() (string, error) {
	login, ok := r.svc.logins[r.token]
	if !ok {
		return "", fmt.Errorf("%w for %s", ErrBadCredentials, domain.RedactToken(r.token))
	}
	return login, nil
}

func (r *Remote) Username(ctx context.Context) (string, error) {
	r.svc.mu.Lock()
	defer r.svc.mu.Unlock()
	if err := r.svc.enter(OpUsername); err != nil {
		return "", err
	}
	return r.login()
}

func (r *Remote) RepoExists(ctx context.Context, repo string) (bool, error) {
	r.svc.mu.Lock()
	defer r.svc.mu.Unlock()
	if err := r.svc.enter(OpRepoExists); err != nil {
		return false, err
	}
	if r.svc.pending[repo] > 0 {
		r.svc.pending[repo]--
		return false, nil
	}
	return r.svc.repos[repo], nil
}

func (r *Remote) CreateFork(ctx context.Context, parent string) (string, error) {
	r.svc.mu.Lock()
	defer r.svc.mu.Unlock()
	if err := r.svc.enter(OpCreateFork); err != nil {
		return "", err
	}
	login, err := r.login()
	if err != nil {
		return "", err
	}
	if !r.svc.repos[parent] {
		return "", fmt.Errorf("parent %s not found", parent)
	}
	repo := login + "/" + path.Base(parent)
	if !r.svc.repos[repo] {
		r.svc.repos[repo] = true
		r.svc.pending[repo] = r.svc.readyDelay
		// Forks start with automation disabled.
		for _, t := range r.svc.triggers[parent] {
			r.svc.nextID++
			r.svc.triggers[repo] = append(r.svc.triggers[repo], &trigger{id: r.svc.nextID, path: t.path})
		}
	}
	return repo, nil
}

func (r *Remote) DeleteRepo(ctx context.Context, repo string) error {
	r.svc.mu.Lock()
	defer r.svc.mu.Unlock()
	if err := r.svc.enter(OpDeleteRepo); err != nil {
		return err
	}
	delete(r.svc.repos, repo)
	delete(r.svc.triggers, repo)
	delete(r.svc.secrets, repo)
	return nil
}

func (r *Remote) AutomationTriggerID(ctx context.Context, repo, fileHint string) (int64, bool, error) {
	r.svc.mu.Lock()
	defer r.svc.mu.Unlock()
	if err := r.svc.enter(OpAutomationTriggerID); err != nil {
		return 0, false, err
	}
	t := r.svc.findTrigger(repo, fileHint)
	if t == nil {
		return 0, false, nil
	}
	return t.id, true, nil
}

func (r *Remote) EnableAutomation(ctx context.Context, repo string, triggerID int64) error {
	return r.setAutomation(OpEnableAutomation, repo, triggerID, true)
}

func (r *Remote) DisableAutomation(ctx context.Context, repo string, triggerID int64) error {
	return r.setAutomation(OpDisableAutomation, repo, triggerID, false)
}

func (r *Remote) setAutomation(op, repo string, triggerID int64, enabled bool) error {
	r.svc.mu.Lock()
	defer r.svc.mu.Unlock()
	if err := r.svc.enter(op); err != nil {
		return err
	}
	t := r.svc.triggerByID(repo, triggerID)
	if t == nil {
		return fmt.Errorf("trigger %d not found in %s", triggerID, repo)
	}
	t.enabled = enabled
	return nil
}

func (r *Remote) DispatchAutomation(ctx context.Context, repo, fileHint, ref string) error {
	r.svc.mu.Lock()
	defer r.svc.mu.Unlock()
	if err := r.svc.enter(OpDispatchAutomation); err != nil {
		return err
	}
	t := r.svc.findTrigger(repo, fileHint)
	if t == nil {
		return fmt.Errorf("no trigger matching %q in %s", fileHint, repo)
	}
	if !t.enabled {
		return fmt.Errorf("trigger %s is disabled in %s", t.path, repo)
	}
	r.svc.nextID++
	r.svc.runs[repo] = append(r.svc.runs[repo], ports.RunStatus{ID: r.svc.nextID, Status: "queued"})
	return nil
}

func (r *Remote) LatestRun(ctx context.Context, repo, fileHint string) (ports.RunStatus, bool, error) {
	r.svc.mu.Lock()
	defer r.svc.mu.Unlock()
	if err := r.svc.enter(OpLatestRun); err != nil {
		return ports.RunStatus{}, false, err
	}
	runs := r.svc.runs[repo]
	if len(runs) == 0 {
		return ports.RunStatus{}, false, nil
	}
	return runs[len(runs)-1], true, nil
}

func (r *Remote) Run(ctx context.Context, repo string, runID int64) (ports.RunStatus, error) {
	r.svc.mu.Lock()
	defer r.svc.mu.Unlock()
	if err := r.svc.enter(OpRun); err != nil {
		return ports.RunStatus{}, err
	}
	for _, run := range r.svc.runs[repo] {
		if run.ID == runID {
			return run, nil
		}
	}
	return ports.RunStatus{}, fmt.Errorf("run %d not found in %s", runID, repo)
}

func (r *Remote) Usage(ctx context.Context, username string) (domain.Usage, error) {
	r.svc.mu.Lock()
	defer r.svc.mu.Unlock()
	if err := r.svc.enter(OpUsage); err != nil {
		return domain.Usage{}, err
	}
	if _, err := r.login(); err != nil {
		return domain.Usage{}, err
	}
	return r.svc.usage[username], nil
}

func (r *Remote) RepoPublicKey(ctx context.Context, repo string) (domain.PublicKey, error) {
	r.svc.mu.Lock()
	defer r.svc.mu.Unlock()
	if err := r.svc.enter(OpRepoPublicKey); err != nil {
		return domain.PublicKey{}, err
	}
	if !r.svc.repos[repo] {
		return domain.PublicKey{}, fmt.Errorf("repository %s not found", repo)
	}
	return PublicKeyOf(repo), nil
}

func (r *Remote) SetSecret(ctx context.Context, repo, name string, sealed domain.SealedSecret) error {
	r.svc.mu.Lock()
	defer r.svc.mu.Unlock()
	if err := r.svc.enter(OpSetSecret); err != nil {
		return err
	}
	if !r.svc.repos[repo] {
		return fmt.Errorf("repository %s not found", repo)
	}
	if want := PublicKeyOf(repo).KeyID; sealed.KeyID != want {
		return fmt.Errorf("secret %s in %s sealed for key %q, want %q", name, repo, sealed.KeyID, want)
	}
	if r.svc.secrets[repo] == nil {
		r.svc.secrets[repo] = make(map[string]domain.SealedSecret)
	}
	r.svc.secrets[repo][name] = sealed
	r.svc.hidden[repo+"/"+name] = r.svc.secretDelay
	return nil
}

func (r *Remote) SecretExists(ctx context.Context, repo, name string) (bool, error) {
	r.svc.mu.Lock()
	defer r.svc.mu.Unlock()
	if err := r.svc.enter(OpSecretExists); err != nil {
		return false, err
	}
	key := repo + "/" + name
	if r.svc.hidden[key] > 0 {
		r.svc.hidden[key]--
		return false, nil
	}
	_, ok := r.svc.secrets[repo][name]
	return ok, nil
}
