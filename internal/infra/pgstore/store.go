// Package pgstore implements the data store ports with gorm on PostgreSQL.
package pgstore

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/varejoflow/crm-automation/internal/domain"
	"github.com/varejoflow/crm-automation/internal/infra/observability"
	"github.com/varejoflow/crm-automation/internal/port"

	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"
)

var tracer = otel.Tracer("pgstore")

var (
	_ port.Store           = (*Store)(nil)
	_ port.MemberDirectory = (*Store)(nil)
)

// Store is a gorm-backed port.Store.
type Store struct {
	db      *gorm.DB
	metrics *observability.Metrics
	logger  *zap.Logger
}

// Open connects to PostgreSQL using a DSN or URL.
func Open(dsn string, metrics *observability.Metrics, logger *zap.Logger) (*Store, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		TranslateError: true,
		Logger:         gormlogger.Discard,
	})
	if err != nil {
		return nil, err
	}
	return New(db, metrics, logger), nil
}

// New wraps an existing gorm connection.
func New(db *gorm.DB, metrics *observability.Metrics, logger *zap.Logger) *Store {
	return &Store{db: db, metrics: metrics, logger: logger}
}

// AutoMigrate creates or updates every table used by the store.
func (s *Store) AutoMigrate(ctx context.Context) error {
	return s.db.WithContext(ctx).AutoMigrate(Models()...)
}

// Ping checks the underlying connection. Used by /readyz.
func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Close releases the connection pool.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// AddMember upserts a company member.
func (s *Store) AddMember(ctx context.Context, m domain.CompanyMember) error {
	row := companyMemberModel{
		CompanyID: m.CompanyID,
		UserID:    m.UserID,
		Role:      m.Role,
		Email:     m.Email,
		FullName:  m.FullName,
	}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "company_id"}, {Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"role", "email", "full_name"}),
	}).Create(&row).Error
	return s.wrap("company_members", "", err)
}

// SetPreference upserts a notification preference.
func (s *Store) SetPreference(ctx context.Context, p domain.NotificationPreference) error {
	row := notificationPreferenceModel{
		CompanyID:    p.CompanyID,
		UserID:       p.UserID,
		Type:         string(p.Type),
		InAppEnabled: p.InAppEnabled,
		EmailEnabled: p.EmailEnabled,
	}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "company_id"}, {Name: "user_id"}, {Name: "type"}},
		DoUpdates: clause.AssignmentColumns([]string{"in_app_enabled", "email_enabled"}),
	}).Create(&row).Error
	return s.wrap("notification_preferences", "", err)
}

// wrap maps gorm errors onto domain errors.
func (s *Store) wrap(table, id string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		return &domain.ErrNotFound{Resource: strings.TrimPrefix(table, "crm_"), ID: id}
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return &domain.ErrConflict{Message: table + ": conflicting row"}
	case errors.Is(err, context.DeadlineExceeded):
		return &domain.ErrTimeout{Operation: "postgres/" + table}
	}
	s.metrics.IncrExternalError("postgres")
	s.logger.Error("pgstore: query failed", zap.String("table", table), zap.Error(err))
	return &domain.ErrExternalService{Service: "postgres/" + table, Err: err}
}

// ============================================================
// Opportunities
// ============================================================

func (s *Store) CreateOpportunity(ctx context.Context, companyID string, in *domain.OpportunityInput) (*domain.Opportunity, error) {
	ctx, span := tracer.Start(ctx, "Postgres.CreateOpportunity")
	defer span.End()

	m := opportunityModel{
		CompanyID:   companyID,
		Name:        strings.TrimSpace(in.Name),
		CustomerID:  in.CustomerID,
		PipelineID:  in.PipelineID,
		Stage:       in.Stage,
		Value:       in.Value,
		Probability: in.Probability,
		OwnerID:     in.OwnerID,
		Status:      in.Status,
		Source:      in.Source,
		Tags:        StringList(in.Tags),
	}
	if err := s.db.WithContext(ctx).Create(&m).Error; err != nil {
		return nil, s.wrap("opportunities", "", err)
	}
	return m.toDomain(), nil
}

func (s *Store) GetOpportunity(ctx context.Context, companyID, id string) (*domain.Opportunity, error) {
	ctx, span := tracer.Start(ctx, "Postgres.GetOpportunity")
	defer span.End()

	var m opportunityModel
	err := s.db.WithContext(ctx).Where("id = ? AND company_id = ?", id, companyID).First(&m).Error
	if err != nil {
		return nil, s.wrap("opportunity", id, err)
	}
	return m.toDomain(), nil
}

func (s *Store) ListOpportunities(ctx context.Context, companyID string, f domain.OpportunityFilter) ([]domain.Opportunity, error) {
	ctx, span := tracer.Start(ctx, "Postgres.ListOpportunities")
	defer span.End()

	if err := f.Normalize(); err != nil {
		return nil, err
	}

	q := s.db.WithContext(ctx).Where("company_id = ?", companyID)
	if f.PipelineID != "" {
		q = q.Where("pipeline_id = ?", f.PipelineID)
	}
	if f.Stage != "" {
		q = q.Where("stage = ?", f.Stage)
	}
	if f.OwnerID != "" {
		q = q.Where("owner_id = ?", f.OwnerID)
	}
	if f.Status != "" {
		q = q.Where("status = ?", f.Status)
	}
	if search := strings.TrimSpace(f.Search); search != "" {
		q = q.Where("LOWER(name) LIKE ?", "%"+strings.ToLower(search)+"%")
	}

	var rows []opportunityModel
	err := q.
		Order(clause.OrderByColumn{Column: clause.Column{Name: f.OrderBy}, Desc: !f.Ascending}).
		Order("id").
		Offset((f.Page - 1) * f.PageSize).
		Limit(f.PageSize).
		Find(&rows).Error
	if err != nil {
		return nil, s.wrap("opportunities", "", err)
	}
	return opportunitiesToDomain(rows), nil
}

func (s *Store) ListAllOpportunities(ctx context.Context, companyID string) ([]domain.Opportunity, error) {
	ctx, span := tracer.Start(ctx, "Postgres.ListAllOpportunities")
	defer span.End()

	var rows []opportunityModel
	if err := s.db.WithContext(ctx).Where("company_id = ?", companyID).Order("created_at, id").Find(&rows).Error; err != nil {
		return nil, s.wrap("opportunities", "", err)
	}
	return opportunitiesToDomain(rows), nil
}

func (s *Store) UpdateOpportunity(ctx context.Context, companyID, id string, cols map[string]any) (*domain.Opportunity, error) {
	ctx, span := tracer.Start(ctx, "Postgres.UpdateOpportunity")
	defer span.End()

	updates := make(map[string]any, len(cols))
	for k, v := range cols {
		if tags, ok := v.([]string); ok && k == "tags" {
			v = StringList(tags)
		}
		updates[k] = v
	}

	res := s.db.WithContext(ctx).
		Model(&opportunityModel{}).
		Where("id = ? AND company_id = ?", id, companyID).
		Updates(updates)
	if res.Error != nil {
		return nil, s.wrap("opportunities", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, &domain.ErrNotFound{Resource: "opportunity", ID: id}
	}
	return s.GetOpportunity(ctx, companyID, id)
}

func (s *Store) UpdateOpportunityScore(ctx context.Context, companyID, id string, score int, at time.Time) error {
	ctx, span := tracer.Start(ctx, "Postgres.UpdateOpportunityScore")
	defer span.End()

	res := s.db.WithContext(ctx).
		Model(&opportunityModel{}).
		Where("id = ? AND company_id = ?", id, companyID).
		UpdateColumns(map[string]any{"score_total": score, "score_updated_at": at})
	if res.Error != nil {
		return s.wrap("opportunities", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return &domain.ErrNotFound{Resource: "opportunity", ID: id}
	}
	return nil
}

func (s *Store) DeleteOpportunity(ctx context.Context, companyID, id string) error {
	ctx, span := tracer.Start(ctx, "Postgres.DeleteOpportunity")
	defer span.End()

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Where("id = ? AND company_id = ?", id, companyID).Delete(&opportunityModel{})
		if res.Error != nil {
			return s.wrap("opportunities", id, res.Error)
		}
		if res.RowsAffected == 0 {
			return &domain.ErrNotFound{Resource: "opportunity", ID: id}
		}
		if err := tx.Where("opportunity_id = ? AND company_id = ?", id, companyID).Delete(&activityModel{}).Error; err != nil {
			return s.wrap("crm_activities", id, err)
		}
		return nil
	})
}

func opportunitiesToDomain(rows []opportunityModel) []domain.Opportunity {
	out := make([]domain.Opportunity, 0, len(rows))
	for i := range rows {
		out = append(out, *rows[i].toDomain())
	}
	return out
}

// ============================================================
// Activities
// ============================================================

func (s *Store) CreateActivity(ctx context.Context, a *domain.Activity) (*domain.Activity, error) {
	ctx, span := tracer.Start(ctx, "Postgres.CreateActivity")
	defer span.End()

	m := activityModel{
		CompanyID:     a.CompanyID,
		OpportunityID: a.OpportunityID,
		Type:          string(a.Type),
		Subject:       a.Subject,
		Notes:         a.Notes,
		OwnerID:       a.OwnerID,
		DueAt:         a.DueAt,
		CompletedAt:   a.CompletedAt,
	}
	if err := s.db.WithContext(ctx).Create(&m).Error; err != nil {
		return nil, s.wrap("crm_activities", "", err)
	}
	return m.toDomain(), nil
}

func (s *Store) ListActivities(ctx context.Context, companyID, opportunityID string) ([]domain.Activity, error) {
	ctx, span := tracer.Start(ctx, "Postgres.ListActivities")
	defer span.End()

	var rows []activityModel
	err := s.db.WithContext(ctx).
		Where("company_id = ? AND opportunity_id = ?", companyID, opportunityID).
		Order("created_at, id").
		Find(&rows).Error
	if err != nil {
		return nil, s.wrap("crm_activities", "", err)
	}
	out := make([]domain.Activity, 0, len(rows))
	for i := range rows {
		out = append(out, *rows[i].toDomain())
	}
	return out, nil
}
