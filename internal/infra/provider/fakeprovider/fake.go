// internal/infra/provider/fakeprovider/fake.go

// Package fakeprovider is an in-memory compute session provider for tests.
package fakeprovider

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"release-orchestrator/internal/domain"
)

// Method names used for failure injection and call counting.
const (
	MethodListComputeTemplates  = "ListComputeTemplates"
	MethodCreateComputeTemplate = "CreateComputeTemplate"
	MethodListAppConfigs        = "ListAppConfigs"
	MethodCreateAppConfig       = "CreateAppConfig"
	MethodListBuilds            = "ListBuilds"
	MethodGetBuild              = "GetBuild"
	MethodSearchSessions        = "SearchSessions"
	MethodCreateSession         = "CreateSession"
	MethodStartSession          = "StartSession"
	MethodGetSessionOperation   = "GetSessionOperation"
	MethodStopSession           = "StopSession"
	MethodCreateCommand         = "CreateCommand"
	MethodGetCommand            = "GetCommand"
	MethodGetExecutionLogs      = "GetExecutionLogs"
	MethodPush                  = "Push"
	MethodPull                  = "Pull"
	MethodListSessions          = "ListSessions"
	MethodGetSessionLogs        = "GetSessionLogs"
)

type session struct {
	status    domain.SessionStatus
	projectID string
	created   time.Time
}

type command struct {
	status    domain.CommandStatus
	sessionID string
	remaining int
	exitCode  int
}

// Provider implements domain.Provider in memory. Zero-value knobs mean
// "complete immediately and succeed".
type Provider struct {
	mu sync.Mutex

	// StartPolls is how many operation polls a session start takes.
	StartPolls int
	// CommandPolls is how many polls a command takes to finish.
	CommandPolls int
	// BuildStatuses is the status sequence of every new build: the first
	// value is what ListBuilds reports, later values are returned by GetBuild.
	BuildStatuses []string
	// ExitCode returns the exit code of a shell command.
	ExitCode func(shellCommand string) int
	// Logs is returned by GetExecutionLogs, trimmed to the requested lines.
	Logs string
	// SessionLogs is returned by GetSessionLogs.
	SessionLogs string
	// Files maps remote paths to the content Pull writes.
	Files map[string][]byte

	fail  map[string]error
	hang  map[string]bool
	calls map[string]int

	templates  []domain.NamedResource
	appConfigs []domain.NamedResource
	builds     map[string][]domain.Build
	buildSeq   map[string][]string
	sessions   map[string]*session
	operations map[string]int
	opSession  map[string]string
	commands   map[string]*command
	stops      map[string]int
	pushes     map[string]string
	lastCmd    []string
	seq        int
}

// New creates an empty provider.
func New() *Provider {
	return &Provider{
		Files:      make(map[string][]byte),
		fail:       make(map[string]error),
		hang:       make(map[string]bool),
		calls:      make(map[string]int),
		builds:     make(map[string][]domain.Build),
		buildSeq:   make(map[string][]string),
		sessions:   make(map[string]*session),
		operations: make(map[string]int),
		opSession:  make(map[string]string),
		commands:   make(map[string]*command),
		stops:      make(map[string]int),
		pushes:     make(map[string]string),
	}
}

var _ domain.Provider = (*Provider)(nil)

// Fail makes every later call of method return err.
func (p *Provider) Fail(method string, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.fail[method] = err
}

// Hang makes every later call of method block until its context is done.
func (p *Provider) Hang(method string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.hang[method] = true
}

// Calls returns how many times method was called.
func (p *Provider) Calls(method string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls[method]
}

// Stops returns how many stop calls a session received.
func (p *Provider) Stops(sessionID string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stops[sessionID]
}

// Sessions returns a copy of every session known to the provider.
func (p *Provider) Sessions() []domain.SessionStatus {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]domain.SessionStatus, 0, len(p.sessions))
	for _, s := range p.sessions {
		out = append(out, s.status)
	}
	return out
}

// CommandsRun returns the shell lines submitted so far.
func (p *Provider) CommandsRun() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.lastCmd...)
}

// Pushed returns the local directory pushed to a session name.
func (p *Provider) Pushed(sessionName string) string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.pushes[sessionName]
}

// AddSession registers a pre-existing session, as listed by ListSessions.
func (p *Provider) AddSession(projectID string, status domain.SessionStatus) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if status.ID == "" {
		status.ID = p.nextID("ses")
	}
	p.sessions[status.ID] = &session{status: status, projectID: projectID, created: time.Now()}
}

// AddComputeTemplate registers an existing compute template.
func (p *Provider) AddComputeTemplate(res domain.NamedResource) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.templates = append(p.templates, res)
}

// AddBuilds registers builds of an app config.
func (p *Provider) AddBuilds(appConfigID string, builds ...domain.Build) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.builds[appConfigID] = append(p.builds[appConfigID], builds...)
}

func (p *Provider) nextID(prefix string) string {
	p.seq++
	return fmt.Sprintf("%s_%d", prefix, p.seq)
}

// enter records the call and applies injected failures. It must be called
// without p.mu held.
func (p *Provider) enter(ctx context.Context, method string) error {
	p.mu.Lock()
	p.calls[method]++
	err := p.fail[method]
	hang := p.hang[method]
	p.mu.Unlock()

	if hang {
		<-ctx.Done()
		return ctx.Err()
	}
	return err
}

func (p *Provider) ListComputeTemplates(ctx context.Context, projectID string) ([]domain.NamedResource, error) {
	if err := p.enter(ctx, MethodListComputeTemplates); err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]domain.NamedResource(nil), p.templates...), nil
}

func (p *Provider) CreateComputeTemplate(ctx context.Context, projectID, name string, config map[string]any) (string, error) {
	if err := p.enter(ctx, MethodCreateComputeTemplate); err != nil {
		return "", err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	id := p.nextID("cpt")
	p.templates = append(p.templates, domain.NamedResource{ID: id, Name: name})
	return id, nil
}

func (p *Provider) ListAppConfigs(ctx context.Context, projectID string, count int) ([]domain.NamedResource, error) {
	if err := p.enter(ctx, MethodListAppConfigs); err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	out := append([]domain.NamedResource(nil), p.appConfigs...)
	if count > 0 && len(out) > count {
		out = out[:count]
	}
	return out, nil
}

func (p *Provider) CreateAppConfig(ctx context.Context, projectID, name string, config map[string]any) (string, error) {
	if err := p.enter(ctx, MethodCreateAppConfig); err != nil {
		return "", err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	id := p.nextID("apt")
	p.appConfigs = append(p.appConfigs, domain.NamedResource{ID: id, Name: name})

	statuses := p.BuildStatuses
	if len(statuses) == 0 {
		statuses = []string{domain.BuildSucceeded}
	}
	buildID := p.nextID("bld")
	p.builds[id] = append(p.builds[id], domain.Build{ID: buildID, Status: statuses[0], CreatedAt: time.Now()})
	p.buildSeq[buildID] = append([]string(nil), statuses[1:]...)
	return id, nil
}

func (p *Provider) ListBuilds(ctx context.Context, appConfigID string) ([]domain.Build, error) {
	if err := p.enter(ctx, MethodListBuilds); err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]domain.Build(nil), p.builds[appConfigID]...), nil
}

func (p *Provider) GetBuild(ctx context.Context, buildID string) (*domain.Build, error) {
	if err := p.enter(ctx, MethodGetBuild); err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	for appID, builds := range p.builds {
		for i := range builds {
			if builds[i].ID != buildID {
				continue
			}
			if seq := p.buildSeq[buildID]; len(seq) > 0 {
				builds[i].Status = seq[0]
				p.buildSeq[buildID] = seq[1:]
			}
			p.builds[appID] = builds
			b := builds[i]
			return &b, nil
		}
	}
	return nil, fmt.Errorf("build %s not found", buildID)
}

func (p *Provider) SearchSessions(ctx context.Context, projectID, name string) ([]domain.SessionSummary, error) {
	if err := p.enter(ctx, MethodSearchSessions); err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []domain.SessionSummary
	for id, s := range p.sessions {
		if s.status.Name == name && s.projectID == projectID {
			out = append(out, domain.SessionSummary{ID: id, Name: s.status.Name, State: s.status.Status})
		}
	}
	return out, nil
}

func (p *Provider) CreateSession(ctx context.Context, opts domain.SessionOptions) (string, error) {
	if err := p.enter(ctx, MethodCreateSession); err != nil {
		return "", err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	id := p.nextID("ses")
	p.sessions[id] = &session{
		status:    domain.SessionStatus{ID: id, Name: opts.Name, Status: string(domain.SessionCreating), CreatedAt: "1 seconds ago"},
		projectID: opts.ProjectID,
		created:   time.Now(),
	}
	return id, nil
}

func (p *Provider) StartSession(ctx context.Context, sessionID string) (*domain.SessionOperation, error) {
	if err := p.enter(ctx, MethodStartSession); err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	s, ok := p.sessions[sessionID]
	if !ok {
		return nil, domain.ErrSessionNotFound
	}
	opID := p.nextID("sop")
	p.operations[opID] = p.StartPolls
	if p.StartPolls == 0 {
		s.status.Status = string(domain.SessionRunning)
	}
	p.opSession[opID] = sessionID
	return &domain.SessionOperation{ID: opID, Completed: p.StartPolls == 0}, nil
}

func (p *Provider) GetSessionOperation(ctx context.Context, operationID string) (*domain.SessionOperation, error) {
	if err := p.enter(ctx, MethodGetSessionOperation); err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	remaining, ok := p.operations[operationID]
	if !ok {
		return nil, fmt.Errorf("operation %s not found", operationID)
	}
	if remaining > 0 {
		remaining--
		p.operations[operationID] = remaining
	}
	completed := remaining == 0
	if completed {
		if s, ok := p.sessions[p.opSession[operationID]]; ok && s.status.Status == string(domain.SessionCreating) {
			s.status.Status = string(domain.SessionRunning)
		}
	}
	return &domain.SessionOperation{ID: operationID, Completed: completed}, nil
}

func (p *Provider) StopSession(ctx context.Context, sessionID string, terminate bool) error {
	if err := p.enter(ctx, MethodStopSession); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	s, ok := p.sessions[sessionID]
	if !ok {
		return domain.ErrSessionNotFound
	}
	p.stops[sessionID]++
	if terminate {
		s.status.Status = string(domain.SessionTerminated)
	} else {
		s.status.Status = "Stopped"
	}
	return nil
}

func (p *Provider) CreateCommand(ctx context.Context, sessionID, shellCommand string) (*domain.CommandStatus, error) {
	if err := p.enter(ctx, MethodCreateCommand); err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	s, ok := p.sessions[sessionID]
	if !ok {
		return nil, domain.ErrSessionNotFound
	}
	id := p.nextID("scd")
	code := 0
	if p.ExitCode != nil {
		code = p.ExitCode(shellCommand)
	}
	c := &command{status: domain.CommandStatus{ID: id}, sessionID: sessionID, remaining: p.CommandPolls, exitCode: code}
	if c.remaining == 0 {
		c.finish()
	}
	p.commands[id] = c
	p.lastCmd = append(p.lastCmd, shellCommand)
	s.status.Commands = append(s.status.Commands, domain.SessionCommand{ID: id, Name: shellCommand, Status: "RUNNING"})
	p.syncCommandStatus(s, c)
	out := c.status
	return &out, nil
}

func (c *command) finish() {
	now := time.Now()
	c.status.FinishedAt = &now
	c.status.StatusCode = c.exitCode
}

func (p *Provider) syncCommandStatus(s *session, c *command) {
	if c.status.FinishedAt == nil {
		return
	}
	for i := range s.status.Commands {
		if s.status.Commands[i].ID == c.status.ID {
			s.status.Commands[i].Status = domain.CommandStatusFinished
		}
	}
}

func (p *Provider) GetCommand(ctx context.Context, commandID string) (*domain.CommandStatus, error) {
	if err := p.enter(ctx, MethodGetCommand); err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	c, ok := p.commands[commandID]
	if !ok {
		return nil, fmt.Errorf("command %s not found", commandID)
	}
	if c.status.FinishedAt == nil {
		c.remaining--
		if c.remaining <= 0 {
			c.finish()
			if s, ok := p.sessions[c.sessionID]; ok {
				p.syncCommandStatus(s, c)
			}
		}
	}
	out := c.status
	return &out, nil
}

func (p *Provider) GetExecutionLogs(ctx context.Context, commandID string, lines int) (string, error) {
	if err := p.enter(ctx, MethodGetExecutionLogs); err != nil {
		return "", err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.commands[commandID]; !ok {
		return "", fmt.Errorf("command %s not found", commandID)
	}
	all := strings.Split(p.Logs, "\n")
	if lines > 0 && len(all) > lines {
		all = all[len(all)-lines:]
	}
	return strings.Join(all, "\n"), nil
}

func (p *Provider) Push(ctx context.Context, sessionName, localDir string) error {
	if err := p.enter(ctx, MethodPush); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pushes[sessionName] = localDir
	return nil
}

func (p *Provider) Pull(ctx context.Context, sessionName, remotePath, localPath string) error {
	if err := p.enter(ctx, MethodPull); err != nil {
		return err
	}
	p.mu.Lock()
	content, ok := p.Files[remotePath]
	p.mu.Unlock()
	if !ok {
		return fmt.Errorf("remote file %s not found", remotePath)
	}
	if err := os.MkdirAll(filepath.Dir(localPath), 0o755); err != nil {
		return err
	}
	return os.WriteFile(localPath, content, 0o644)
}

func (p *Provider) ListSessions(ctx context.Context, projectID string) ([]domain.SessionStatus, error) {
	if err := p.enter(ctx, MethodListSessions); err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []domain.SessionStatus
	for _, s := range p.sessions {
		if s.projectID == projectID {
			out = append(out, s.status)
		}
	}
	return out, nil
}

func (p *Provider) GetSessionLogs(ctx context.Context, sessionID string) (string, error) {
	if err := p.enter(ctx, MethodGetSessionLogs); err != nil {
		return "", err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.sessions[sessionID]; !ok {
		return "", domain.ErrSessionNotFound
	}
	return p.SessionLogs, nil
}
