package services

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"appforge/internal/models"
)

// ExportJob is one export request waiting for a worker.
type ExportJob struct {
	ProjectID string
	Project   *models.Project
	Format    models.ExportFormat
	Done      func(*models.ProjectExportedPayload, error)
}

// ExportServiceImpl builds export artifacts with a worker pool. Exports can
// be large (zipping a whole code model), so they never run on a session's
// read pump; the pool bounds concurrency and the buffered queue provides
// backpressure.
type ExportServiceImpl struct {
	jobs    chan ExportJob
	workers int
	wg      sync.WaitGroup
	ctx     context.Context
	cancel  context.CancelFunc
}

// NewExportService creates the pool without starting it.
// Returns concrete type - "Accept interfaces, return structs"
func NewExportService(numWorkers, queueSize int) *ExportServiceImpl {
	ctx, cancel := context.WithCancel(context.Background())
	return &ExportServiceImpl{
		jobs:    make(chan ExportJob, queueSize),
		workers: numWorkers,
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Start spawns the worker goroutines.
func (s *ExportServiceImpl) Start() {
	log.Printf("🔧 Starting export worker pool with %d workers", s.workers)
	for i := 0; i < s.workers; i++ {
		s.wg.Add(1)
		go s.worker(i)
	}
	log.Println("✓ Export worker pool started")
}

func (s *ExportServiceImpl) worker(id int) {
	defer s.wg.Done()

	for {
		select {
		case <-s.ctx.Done():
			log.Printf("  Export worker %d shutting down", id)
			return
		case job, ok := <-s.jobs:
			if !ok {
				return
			}
			result, err := buildExport(job.Project, job.Format)
			if err != nil {
				log.Printf("  Export worker %d: project %s: %v", id, job.ProjectID, err)
			}
			if job.Done != nil {
				job.Done(result, err)
			}
		}
	}
}

// Submit queues one export. Blocks only when the queue is full (backpressure).
func (s *ExportServiceImpl) Submit(projectID string, project *models.Project, format models.ExportFormat,
	done func(*models.ProjectExportedPayload, error)) error {
	select {
	case s.jobs <- ExportJob{ProjectID: projectID, Project: project, Format: format, Done: done}:
		return nil
	case <-s.ctx.Done():
		return fmt.Errorf("export service is shutting down")
	}
}

// Shutdown stops accepting jobs and waits for workers to finish.
func (s *ExportServiceImpl) Shutdown() {
	log.Println("🛑 Shutting down export service...")
	close(s.jobs)
	s.cancel()
	s.wg.Wait()
	log.Println("✓ Export service shutdown complete")
}

// GetQueueLength returns the number of pending jobs.
func (s *ExportServiceImpl) GetQueueLength() int {
	return len(s.jobs)
}

// buildExport renders one artifact. Pure function, also exercised directly by
// tests.
func buildExport(project *models.Project, format models.ExportFormat) (*models.ProjectExportedPayload, error) {
	if project == nil {
		return nil, fmt.Errorf("no project to export")
	}

	switch format {
	case models.ExportJSON:
		data, err := json.MarshalIndent(project, "", "  ")
		if err != nil {
			return nil, fmt.Errorf("encode project: %w", err)
		}
		return &models.ProjectExportedPayload{
			Format:   models.ExportJSON,
			Filename: exportFilename(project.Name, "json"),
			Data:     data,
		}, nil

	case models.ExportZip:
		data, err := zipCodeModel(project)
		if err != nil {
			return nil, err
		}
		return &models.ProjectExportedPayload{
			Format:   models.ExportZip,
			Filename: exportFilename(project.Name, "zip"),
			Data:     data,
		}, nil

	case models.ExportCode:
		files := append([]models.CodeFile(nil), project.CodeModel.Files...)
		return &models.ProjectExportedPayload{
			Format:   models.ExportCode,
			Filename: exportFilename(project.Name, "code"),
			Files:    files,
		}, nil

	default:
		return nil, fmt.Errorf("unknown export format %q", format)
	}
}

// zipCodeModel writes every generated code file into a zip archive.
func zipCodeModel(project *models.Project) ([]byte, error) {
	var buf bytes.Buffer
	w := zip.NewWriter(&buf)

	for _, file := range project.CodeModel.Files {
		entry, err := w.Create(file.Path)
		if err != nil {
			return nil, fmt.Errorf("zip entry %s: %w", file.Path, err)
		}
		if _, err := entry.Write([]byte(file.Content)); err != nil {
			return nil, fmt.Errorf("zip write %s: %w", file.Path, err)
		}
	}

	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("finalize zip: %w", err)
	}
	return buf.Bytes(), nil
}

func exportFilename(projectName, ext string) string {
	name := strings.ToLower(strings.TrimSpace(projectName))
	name = strings.ReplaceAll(name, " ", "-")
	if name == "" {
		name = "project"
	}
	stamp := time.Now().Format("20060102-150405")
	if ext == "code" {
		return fmt.Sprintf("%s-%s", name, stamp)
	}
	return fmt.Sprintf("%s-%s.%s", name, stamp, ext)
}
