package services

import (
	"context"
	"fmt"
	"sort"

	"github.com/google/uuid"
	"github.com/huangang/auditreport/internal/models"
	"github.com/huangang/auditreport/pkg/logger"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
)

// Header fields shown on a generated report.
const (
	HeaderPremiseName          = "premise_name"
	HeaderPremiseAddress       = "premise_address"
	HeaderOperatorName         = "operator_name"
	HeaderOperatorEmail        = "operator_email"
	HeaderOperatorPhone        = "operator_phone"
	HeaderAuditorName          = "auditor_name"
	HeaderAuditorEmail         = "auditor_email"
	HeaderAuditorPhone         = "auditor_phone"
	HeaderAuditorQualification = "auditor_qualification"
)

var displayedHeaderFields = []string{
	HeaderPremiseName,
	HeaderPremiseAddress,
	HeaderOperatorName,
	HeaderOperatorEmail,
	HeaderOperatorPhone,
	HeaderAuditorName,
	HeaderAuditorEmail,
	HeaderAuditorPhone,
	HeaderAuditorQualification,
}

// DirectoryLookup resolves the contact records shown on a report header.
// Implementations must read the current record, never a cached copy.
type DirectoryLookup interface {
	Premise(ctx context.Context, id string) (*models.Premise, error)
	Operator(ctx context.Context, id string) (*models.Operator, error)
	Auditor(ctx context.Context, id string) (*models.Auditor, error)
}

// DirectoryService is the database-backed DirectoryLookup.
type DirectoryService struct {
	db *gorm.DB
}

func NewDirectoryService(db *gorm.DB) *DirectoryService {
	return &DirectoryService{db: db}
}

func (s *DirectoryService) Premise(ctx context.Context, id string) (*models.Premise, error) {
	var premise models.Premise
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&premise).Error; err != nil {
		return nil, fmt.Errorf("premise %s: %w", id, err)
	}
	return &premise, nil
}

func (s *DirectoryService) Operator(ctx context.Context, id string) (*models.Operator, error) {
	var operator models.Operator
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&operator).Error; err != nil {
		return nil, fmt.Errorf("operator %s: %w", id, err)
	}
	return &operator, nil
}

func (s *DirectoryService) Auditor(ctx context.Context, id string) (*models.Auditor, error) {
	var auditor models.Auditor
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&auditor).Error; err != nil {
		return nil, fmt.Errorf("auditor %s: %w", id, err)
	}
	return &auditor, nil
}

// SnapshotBuilder assembles the fields frozen onto a report when it is
// generated. It only reads, so a failed generation can rebuild from scratch.
type SnapshotBuilder struct {
	directory DirectoryLookup
}

func NewSnapshotBuilder(directory DirectoryLookup) *SnapshotBuilder {
	return &SnapshotBuilder{directory: directory}
}

// BuildHeaderValues overlays freshly fetched contact details on the
// inspection's stored header values. Each displayed field takes the fresh
// value, then the stored one, then "". When the lookup fails the stored
// values are returned unchanged.
func (b *SnapshotBuilder) BuildHeaderValues(ctx context.Context, insp *models.Inspection) map[string]string {
	values := make(map[string]string, len(insp.HeaderValues)+len(displayedHeaderFields))
	for k, v := range insp.HeaderValues {
		values[k] = v
	}

	fresh, err := b.fetchHeaderFields(ctx, insp)
	if err != nil {
		logger.Warnf("[Snapshot] Header lookup failed for inspection %s, keeping stored values: %v", insp.ID, err)
		return values
	}

	for _, field := range displayedHeaderFields {
		if v := fresh[field]; v != "" {
			values[field] = v
		} else if _, ok := values[field]; !ok {
			values[field] = ""
		}
	}
	return values
}

func (b *SnapshotBuilder) fetchHeaderFields(ctx context.Context, insp *models.Inspection) (map[string]string, error) {
	var premise *models.Premise
	var operator *models.Operator
	var auditor *models.Auditor

	g, gctx := errgroup.WithContext(ctx)
	if insp.PremiseID != "" {
		g.Go(func() error {
			p, err := b.directory.Premise(gctx, insp.PremiseID)
			if err != nil {
				return err
			}
			premise = p
			if p.OperatorID == "" {
				return nil
			}
			operator, err = b.directory.Operator(gctx, p.OperatorID)
			return err
		})
	}
	if insp.AuditorID != "" {
		g.Go(func() error {
			a, err := b.directory.Auditor(gctx, insp.AuditorID)
			auditor = a
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	fields := map[string]string{}
	if premise != nil {
		fields[HeaderPremiseName] = premise.Name
		fields[HeaderPremiseAddress] = premise.Address
	}
	if operator != nil {
		fields[HeaderOperatorName] = operator.Name
		fields[HeaderOperatorEmail] = operator.Email
		fields[HeaderOperatorPhone] = operator.Phone
	}
	if auditor != nil {
		fields[HeaderAuditorName] = auditor.Name
		fields[HeaderAuditorEmail] = auditor.Email
		fields[HeaderAuditorPhone] = auditor.Phone
		fields[HeaderAuditorQualification] = auditor.Qualification
	}
	return fields, nil
}

// BuildAuditor fetches the auditor identity as of now. It returns nil when
// the inspection has no auditor or the lookup fails.
func (b *SnapshotBuilder) BuildAuditor(ctx context.Context, insp *models.Inspection) *models.AuditorIdentity {
	if insp.AuditorID == "" {
		return nil
	}
	auditor, err := b.directory.Auditor(ctx, insp.AuditorID)
	if err != nil {
		logger.Warnf("[Snapshot] Auditor lookup failed for inspection %s: %v", insp.ID, err)
		return nil
	}
	return &models.AuditorIdentity{
		ID:            auditor.ID,
		Name:          auditor.Name,
		Email:         auditor.Email,
		Phone:         auditor.Phone,
		Qualification: auditor.Qualification,
		StampURL:      auditor.StampURL,
	}
}

// CopyAnswers deep-copies an answer map so later edits to the source cannot
// reach the copy.
func CopyAnswers(answers map[string]models.Answer) map[string]models.Answer {
	out := make(map[string]models.Answer, len(answers))
	for qid, ans := range answers {
		cp := models.Answer{Compliant: ans.Compliant}
		if ans.NonComplianceData != nil {
			cp.NonComplianceData = make([]models.NonComplianceEntry, len(ans.NonComplianceData))
			for i, entry := range ans.NonComplianceData {
				cp.NonComplianceData[i] = entry
				if entry.Photos != nil {
					cp.NonComplianceData[i].Photos = append([]models.Photo(nil), entry.Photos...)
				}
			}
		}
		out[qid] = cp
	}
	return out
}

type questionPlace struct {
	section string
	item    string
}

// BuildEditorState flattens every non-compliance entry of every
// non-compliant answer into an editable list. Entries follow the question
// order of the type definition; answers to unknown questions come last,
// sorted by question id.
func (b *SnapshotBuilder) BuildEditorState(answers map[string]models.Answer, typ *models.InspectionType, auditor *models.AuditorIdentity) *models.EditorState {
	places := map[string]questionPlace{}
	var order []string
	if typ != nil {
		for _, section := range typ.Structure.Sections {
			for _, item := range section.Items {
				for _, q := range item.Questions {
					if _, dup := places[q.ID]; dup {
						continue
					}
					places[q.ID] = questionPlace{section: section.Title, item: item.Title}
					order = append(order, q.ID)
				}
			}
		}
	}

	var unknown []string
	for qid := range answers {
		if _, ok := places[qid]; !ok {
			unknown = append(unknown, qid)
		}
	}
	sort.Strings(unknown)
	order = append(order, unknown...)

	state := &models.EditorState{Entries: []models.EditorEntry{}}
	for _, qid := range order {
		ans, ok := answers[qid]
		if !ok || ans.Compliant {
			continue
		}
		place := places[qid]
		for _, nc := range ans.NonComplianceData {
			state.Entries = append(state.Entries, models.EditorEntry{
				ID:             idOrNew(nc.ID),
				QuestionID:     qid,
				SectionTitle:   place.section,
				ItemTitle:      place.item,
				Location:       nc.Location,
				Finding:        nc.Finding,
				Recommendation: nc.Recommendation,
				Photos:         normalizePhotos(nc.Photos),
				Layout: models.EntryLayout{
					Columns:    models.DefaultLayoutColumns,
					Alignment:  models.DefaultLayoutAlignment,
					WidthRatio: models.DefaultLayoutWidthRatio,
				},
			})
		}
	}

	if auditor != nil && auditor.StampURL != "" {
		state.Stamp = &models.StampOverlay{
			ImageURL:   auditor.StampURL,
			Alignment:  models.DefaultStampAlignment,
			WidthRatio: models.DefaultStampWidthRatio,
		}
	}
	return state
}

func normalizePhotos(photos []models.Photo) []models.EditorPhoto {
	out := make([]models.EditorPhoto, 0, len(photos))
	for _, p := range photos {
		if p.URL == "" && p.InlineData == "" {
			continue
		}
		out = append(out, models.EditorPhoto{
			ID:         idOrNew(p.ID),
			URL:        p.URL,
			InlineData: p.InlineData,
		})
	}
	return out
}

func idOrNew(id string) string {
	if id != "" {
		return id
	}
	return uuid.NewString()
}
