package service

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/campusflow/registrar-api/internal/models"
	"github.com/campusflow/registrar-api/pkg/export"
	"github.com/campusflow/registrar-api/pkg/storage"
)

type exportRegistrationSource interface {
	List(ctx context.Context, filter models.RegistrationFilter) ([]models.RegistrationDetail, int, error)
}

type exportUploadSource interface {
	List(ctx context.Context, filter models.CourseUploadFilter) ([]models.CourseUploadDetail, int, error)
}

type fileStorage interface {
	Save(filename string, data []byte) (string, error)
	Open(filename string) (*os.File, error)
	Delete(filename string) error
	CleanupOlderThan(ttl time.Duration) ([]string, error)
}

type csvRenderer interface {
	Render(data export.Dataset) ([]byte, error)
}

type pdfRenderer interface {
	Render(data export.Dataset, title string) ([]byte, error)
}

// ExportConfig tunes export behaviour.
type ExportConfig struct {
	APIPrefix string
	ResultTTL time.Duration
}

// ExportResult captures successful generation metadata.
type ExportResult struct {
	RelativePath string
	Token        string
	URL          string
	Format       models.ExportFormat
	ExpiresAt    time.Time
}

// exportPageSize caps how many rows a single export reads per page.
const exportPageSize = 100

// ExportService builds registration datasets and persists rendered files.
type ExportService struct {
	registrations exportRegistrationSource
	uploads       exportUploadSource
	storage       fileStorage
	csv           csvRenderer
	pdf           pdfRenderer
	signer        *storage.SignedURLSigner
	logger        *zap.Logger
	cfg           ExportConfig
}

// NewExportService constructs an ExportService.
func NewExportService(registrations exportRegistrationSource, uploads exportUploadSource, store fileStorage, signer *storage.SignedURLSigner, cfg ExportConfig, logger *zap.Logger, csv csvRenderer, pdf pdfRenderer) *ExportService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.ResultTTL <= 0 {
		cfg.ResultTTL = 24 * time.Hour
	}
	if csv == nil {
		csv = export.NewCSVExporter()
	}
	if pdf == nil {
		pdf = export.NewPDFExporter()
	}
	return &ExportService{
		registrations: registrations,
		uploads:       uploads,
		storage:       store,
		csv:           csv,
		pdf:           pdf,
		signer:        signer,
		logger:        logger,
		cfg:           cfg,
	}
}

// Generate builds the dataset for a job and stores the rendered export.
func (s *ExportService) Generate(ctx context.Context, job *models.ExportJob) (*ExportResult, error) {
	if job == nil {
		return nil, fmt.Errorf("job nil")
	}
	dataset, title, err := s.buildDataset(ctx, job)
	if err != nil {
		return nil, err
	}

	var payload []byte
	switch job.Params.Format {
	case models.ExportFormatCSV:
		payload, err = s.csv.Render(dataset)
	case models.ExportFormatPDF:
		payload, err = s.pdf.Render(dataset, title)
	default:
		err = fmt.Errorf("unsupported format %s", job.Params.Format)
	}
	if err != nil {
		return nil, err
	}

	filename := s.buildFilename(job)
	relPath, err := s.storage.Save(filename, payload)
	if err != nil {
		return nil, err
	}

	token, expiresAt, err := s.signer.Generate(job.ID, relPath)
	if err != nil {
		return nil, err
	}
	signedURL := strings.TrimRight(s.cfg.APIPrefix, "/")
	if signedURL == "" {
		signedURL = "/api/v1"
	}
	signedURL = fmt.Sprintf("%s/exports/download/%s", signedURL, token)

	return &ExportResult{
		RelativePath: relPath,
		Token:        token,
		URL:          signedURL,
		Format:       job.Params.Format,
		ExpiresAt:    expiresAt,
	}, nil
}

// ParseToken validates download token metadata.
func (s *ExportService) ParseToken(token string, allowExpired bool) (jobID, relPath string, expiresAt time.Time, err error) {
	return s.signer.Parse(token, allowExpired)
}

// Open returns a handle to the stored file.
func (s *ExportService) Open(relPath string) (*os.File, error) {
	return s.storage.Open(relPath)
}

// Delete removes a stored export file.
func (s *ExportService) Delete(relPath string) error {
	return s.storage.Delete(relPath)
}

// Cleanup removes files older than ttl (defaults to configured ResultTTL when ttl <= 0).
func (s *ExportService) Cleanup(ttl time.Duration) ([]string, error) {
	if ttl <= 0 {
		ttl = s.cfg.ResultTTL
	}
	return s.storage.CleanupOlderThan(ttl)
}

func (s *ExportService) buildFilename(job *models.ExportJob) string {
	timestamp := time.Now().UTC().Format("20060102_150405")
	semesterPart := sanitizeFilename(job.Params.SemesterID)
	return fmt.Sprintf("%s_%s_%s.%s", strings.ToLower(string(job.Type)), semesterPart, timestamp, job.Params.Format)
}

func sanitizeFilename(raw string) string {
	if raw == "" {
		return "na"
	}
	replacer := strings.NewReplacer(" ", "_", "/", "-", "\\", "-", ":", "-", "..", ".", "__", "_")
	result := replacer.Replace(raw)
	if len(result) > 100 {
		return result[:100]
	}
	return result
}

func (s *ExportService) buildDataset(ctx context.Context, job *models.ExportJob) (export.Dataset, string, error) {
	switch job.Type {
	case models.ExportTypeRegistrations:
		return s.buildRegistrationDataset(ctx, job.Params)
	case models.ExportTypeCourseUploads:
		return s.buildCourseUploadDataset(ctx, job.Params)
	case models.ExportTypeStudentCard:
		return s.buildStudentCardDataset(ctx, job.Params)
	default:
		return export.Dataset{}, "", fmt.Errorf("unsupported export type %s", job.Type)
	}
}

func (s *ExportService) buildRegistrationDataset(ctx context.Context, params models.ExportJobParams) (export.Dataset, string, error) {
	headers := []string{"Registration ID", "Student", "Semester", "Status", "Total Credits", "Decided By", "Decision Note", "Updated At"}
	dataRows := []map[string]string{}
	for page := 1; ; page++ {
		rows, total, err := s.registrations.List(ctx, models.RegistrationFilter{
			SemesterID: params.SemesterID,
			StudentID:  deref(params.StudentID),
			Page:       page,
			PageSize:   exportPageSize,
			SortBy:     "created_at",
			SortOrder:  "ASC",
		})
		if err != nil {
			return export.Dataset{}, "", err
		}
		for _, row := range rows {
			dataRows = append(dataRows, map[string]string{
				"Registration ID": row.ID,
				"Student":         row.StudentName,
				"Semester":        row.SemesterName,
				"Status":          string(row.Status),
				"Total Credits":   fmt.Sprintf("%d", row.TotalCredits),
				"Decided By":      deref(row.DecidedBy),
				"Decision Note":   deref(row.DecisionNote),
				"Updated At":      row.UpdatedAt.UTC().Format(time.RFC3339),
			})
		}
		if len(rows) == 0 || page*exportPageSize >= total {
			break
		}
	}
	dataset := export.Dataset{Headers: headers, Rows: dataRows}
	title := fmt.Sprintf("Registrations %s", params.SemesterID)
	return dataset, title, nil
}

func (s *ExportService) buildCourseUploadDataset(ctx context.Context, params models.ExportJobParams) (export.Dataset, string, error) {
	headers := []string{"Upload ID", "Student", "Course Code", "Course Title", "Credits", "Department", "Status", "Decided By", "Updated At"}
	dataRows := []map[string]string{}
	for page := 1; ; page++ {
		rows, total, err := s.uploads.List(ctx, models.CourseUploadFilter{
			SemesterID: params.SemesterID,
			StudentID:  deref(params.StudentID),
			Department: deref(params.Department),
			Page:       page,
			PageSize:   exportPageSize,
			SortBy:     "created_at",
			SortOrder:  "ASC",
		})
		if err != nil {
			return export.Dataset{}, "", err
		}
		for _, row := range rows {
			dataRows = append(dataRows, map[string]string{
				"Upload ID":    row.ID,
				"Student":      row.StudentName,
				"Course Code":  row.CourseCode,
				"Course Title": row.CourseTitle,
				"Credits":      fmt.Sprintf("%d", row.CourseCredits),
				"Department":   row.Department,
				"Status":       string(row.Status),
				"Decided By":   deref(row.DecidedBy),
				"Updated At":   row.UpdatedAt.UTC().Format(time.RFC3339),
			})
		}
		if len(rows) == 0 || page*exportPageSize >= total {
			break
		}
	}
	dataset := export.Dataset{Headers: headers, Rows: dataRows}
	title := fmt.Sprintf("Course Uploads %s", params.SemesterID)
	return dataset, title, nil
}

// buildStudentCardDataset lists one student's approved course load for the
// semester, the printable study card.
func (s *ExportService) buildStudentCardDataset(ctx context.Context, params models.ExportJobParams) (export.Dataset, string, error) {
	studentID := deref(params.StudentID)
	if studentID == "" {
		return export.Dataset{}, "", fmt.Errorf("student card export requires a student id")
	}
	rows, _, err := s.uploads.List(ctx, models.CourseUploadFilter{
		SemesterID: params.SemesterID,
		StudentID:  studentID,
		Status:     models.StatusApproved,
		Page:       1,
		PageSize:   exportPageSize,
		SortBy:     "course_code",
		SortOrder:  "ASC",
	})
	if err != nil {
		return export.Dataset{}, "", err
	}
	headers := []string{"Course Code", "Course Title", "Credits", "Department"}
	dataRows := make([]map[string]string, 0, len(rows))
	totalCredits := 0
	studentName := ""
	for _, row := range rows {
		totalCredits += row.CourseCredits
		studentName = row.StudentName
		dataRows = append(dataRows, map[string]string{
			"Course Code":  row.CourseCode,
			"Course Title": row.CourseTitle,
			"Credits":      fmt.Sprintf("%d", row.CourseCredits),
			"Department":   row.Department,
		})
	}
	dataRows = append(dataRows, map[string]string{
		"Course Code":  "TOTAL",
		"Course Title": "",
		"Credits":      fmt.Sprintf("%d", totalCredits),
		"Department":   "",
	})
	title := fmt.Sprintf("Study Card %s", params.SemesterID)
	if studentName != "" {
		title = fmt.Sprintf("Study Card %s (%s)", studentName, params.SemesterID)
	}
	return export.Dataset{Headers: headers, Rows: dataRows}, title, nil
}

func deref(ptr *string) string {
	if ptr == nil {
		return ""
	}
	return *ptr
}
