package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"sync"

	"appforge/internal/middleware"
	"appforge/internal/models"
	"appforge/internal/openai"

	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"
	"go.opentelemetry.io/otel/attribute"
)

// IndexJob is one component waiting to be embedded into the vector index.
type IndexJob struct {
	ProjectID string
	Component models.UIComponent
}

// SuggestServiceImpl answers ai-request messages. It keeps a vector index of
// each project's components up to date through a worker pool, then grounds
// every suggestion prompt in the most similar existing components, so the
// model proposes pieces that fit the project instead of inventing a style.
type SuggestServiceImpl struct {
	openaiClient *openai.Client
	index        ComponentIndex // Interface from this package (consumer-driven!)

	jobs    chan IndexJob
	workers int
	wg      sync.WaitGroup
	ctx     context.Context
	cancel  context.CancelFunc
}

// NewSuggestService creates the service with its indexing worker pool.
// Returns concrete type - "Accept interfaces, return structs"
func NewSuggestService(openaiClient *openai.Client, index ComponentIndex, numWorkers, queueSize int) *SuggestServiceImpl {
	ctx, cancel := context.WithCancel(context.Background())
	return &SuggestServiceImpl{
		openaiClient: openaiClient,
		index:        index,
		jobs:         make(chan IndexJob, queueSize),
		workers:      numWorkers,
		ctx:          ctx,
		cancel:       cancel,
	}
}

// Start spawns the indexing workers.
func (s *SuggestServiceImpl) Start() {
	log.Printf("🔧 Starting suggestion index pool with %d workers", s.workers)
	for i := 0; i < s.workers; i++ {
		s.wg.Add(1)
		go s.worker(i)
	}
	log.Println("✓ Suggestion index pool started")
}

func (s *SuggestServiceImpl) worker(id int) {
	defer s.wg.Done()

	for {
		select {
		case <-s.ctx.Done():
			log.Printf("  Index worker %d shutting down", id)
			return
		case job, ok := <-s.jobs:
			if !ok {
				return
			}
			if err := s.processIndex(job); err != nil {
				log.Printf("  Index worker %d: %v", id, err)
			}
		}
	}
}

// IndexComponent queues a component for embedding. Indexing is best-effort:
// a full queue drops the job rather than slowing down sync traffic.
func (s *SuggestServiceImpl) IndexComponent(projectID string, component models.UIComponent) {
	if s.openaiClient == nil || s.index == nil {
		return
	}
	select {
	case s.jobs <- IndexJob{ProjectID: projectID, Component: component}:
	default:
		log.Printf("  Index queue full, skipping component %s", component.ID)
	}
}

func (s *SuggestServiceImpl) processIndex(job IndexJob) error {
	summary := componentSummary(job.Component)

	vector, err := s.openaiClient.CreateEmbeddings([]string{summary})
	if err != nil {
		return fmt.Errorf("embed component %s: %w", job.Component.ID, err)
	}

	embedding := &models.ComponentEmbedding{
		ProjectID:   job.ProjectID,
		ComponentID: job.Component.ID,
		Summary:     summary,
		Embedding:   pgvector.NewVector(vector),
	}
	if err := s.index.Store(s.ctx, embedding); err != nil {
		return fmt.Errorf("store embedding for %s: %w", job.Component.ID, err)
	}
	return nil
}

// Suggest answers one AI request against the given project snapshot.
func (s *SuggestServiceImpl) Suggest(ctx context.Context, project *models.Project, req models.AIRequestPayload) (*models.AIResponsePayload, error) {
	if s.openaiClient == nil {
		return nil, fmt.Errorf("AI is not configured")
	}

	ctx, span := middleware.StartSpan(ctx, "Suggest.Request",
		attribute.String("project.id", project.ID),
		attribute.String("request.type", req.Type),
	)
	defer span.End()

	similar := s.retrieveSimilar(ctx, project.ID, req.Prompt)

	messages := []openai.ChatMessage{
		{Role: "system", Content: suggestSystemPrompt(req.Type)},
		{Role: "user", Content: buildPrompt(project, req, similar)},
	}

	answer, err := s.openaiClient.ChatCompletion(ctx, messages)
	if err != nil {
		middleware.AddSpanError(ctx, err)
		return nil, fmt.Errorf("ai request failed: %w", err)
	}

	resp := &models.AIResponsePayload{Type: req.Type, Text: answer}
	if req.Type == "component" {
		if component, ok := parseComponentReply(answer); ok {
			resp.Component = component
		}
	}
	return resp, nil
}

// retrieveSimilar embeds the prompt and pulls the nearest components. Any
// failure here degrades to an ungrounded prompt instead of failing the
// request.
func (s *SuggestServiceImpl) retrieveSimilar(ctx context.Context, projectID, prompt string) []string {
	if s.index == nil {
		return nil
	}

	vector, err := s.openaiClient.CreateEmbeddings([]string{prompt})
	if err != nil {
		log.Printf("suggest: embed prompt: %v", err)
		return nil
	}

	matches, err := s.index.SearchSimilar(ctx, projectID, vector, 5)
	if err != nil {
		log.Printf("suggest: search index: %v", err)
		return nil
	}

	out := make([]string, 0, len(matches))
	for _, m := range matches {
		out = append(out, m.Summary)
	}
	return out
}

// Shutdown stops the indexing pool and waits for in-flight jobs.
func (s *SuggestServiceImpl) Shutdown() {
	log.Println("🛑 Shutting down suggestion service...")
	close(s.jobs)
	s.cancel()
	s.wg.Wait()
	log.Println("✓ Suggestion service shutdown complete")
}

func componentSummary(c models.UIComponent) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s component %q", c.Type, c.Name)
	if len(c.Props) > 0 {
		keys := make([]string, 0, len(c.Props))
		for k := range c.Props {
			keys = append(keys, k)
		}
		fmt.Fprintf(&b, " with props %s", strings.Join(keys, ", "))
	}
	return b.String()
}

func suggestSystemPrompt(requestType string) string {
	if requestType == "component" {
		return "You are a UI assistant for a low-code app builder. " +
			"Reply with a single JSON object describing one UI component: " +
			`{"type": "...", "name": "...", "props": {...}}. No prose.`
	}
	return "You are a helpful assistant for a low-code app builder. " +
		"Answer concisely about the user's project."
}

func buildPrompt(project *models.Project, req models.AIRequestPayload, similar []string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Project %q has %d components, %d screens, %d logic nodes.\n",
		project.Name, len(project.Components), len(project.Screens), len(project.LogicGraph.Nodes))

	if len(similar) > 0 {
		b.WriteString("Existing similar components:\n")
		for _, s := range similar {
			fmt.Fprintf(&b, "- %s\n", s)
		}
	}
	if req.Context != "" {
		fmt.Fprintf(&b, "Context: %s\n", req.Context)
	}
	fmt.Fprintf(&b, "Request: %s", req.Prompt)
	return b.String()
}

// parseComponentReply extracts a component from the model's JSON reply. The
// reply may wrap the object in prose or code fences; the outermost braces are
// taken. A reply that doesn't parse degrades to a text-only response.
func parseComponentReply(answer string) (*models.UIComponent, bool) {
	start := strings.Index(answer, "{")
	end := strings.LastIndex(answer, "}")
	if start < 0 || end <= start {
		return nil, false
	}

	var parsed struct {
		Type  string         `json:"type"`
		Name  string         `json:"name"`
		Props map[string]any `json:"props"`
	}
	if err := json.Unmarshal([]byte(answer[start:end+1]), &parsed); err != nil {
		return nil, false
	}
	if parsed.Type == "" {
		return nil, false
	}
	if parsed.Name == "" {
		parsed.Name = parsed.Type
	}

	return &models.UIComponent{
		ID:    uuid.NewString(),
		Type:  parsed.Type,
		Name:  parsed.Name,
		Props: parsed.Props,
	}, true
}
