package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	mysqldriver "github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"flowmail/backend/internal/config"
	"flowmail/backend/internal/domain"
	"flowmail/backend/internal/storage"
)

// Store 基于 GORM 的关系型存储实现，支持 PostgreSQL 与 MySQL。
type Store struct {
	db *gorm.DB
}

var _ storage.Store = (*Store)(nil)

// Options 连接池与迁移参数
type Options struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	AutoMigrate     bool
}

// Open 按配置选择方言并创建存储实例
func Open(cfg config.DatabaseConfig) (*Store, error) {
	var dialector gorm.Dialector
	switch cfg.Type {
	case "postgres", "postgresql":
		dialector = postgres.Open(cfg.DSN)
	case "mysql":
		dialector = mysql.Open(cfg.DSN)
	default:
		return nil, fmt.Errorf("unsupported database type: %s (supported: mysql, postgres)", cfg.Type)
	}

	return NewStoreWithDialector(dialector, Options{
		MaxOpenConns:    cfg.MaxOpenConns,
		MaxIdleConns:    cfg.MaxIdleConns,
		ConnMaxLifetime: cfg.ConnMaxLifetime,
		AutoMigrate:     true,
	})
}

// NewStoreWithDialector 使用指定的 GORM dialector 创建存储实例
func NewStoreWithDialector(dialector gorm.Dialector, opts Options) (*Store, error) {
	db, err := gorm.Open(dialector, &gorm.Config{
		Logger:                 logger.Default.LogMode(logger.Silent),
		SkipDefaultTransaction: true,
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}
	if opts.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(opts.MaxOpenConns)
	}
	if opts.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(opts.MaxIdleConns)
	}
	if opts.ConnMaxLifetime > 0 {
		sqlDB.SetConnMaxLifetime(opts.ConnMaxLifetime)
	}

	store := &Store{db: db}
	if opts.AutoMigrate {
		if err := store.migrate(); err != nil {
			return nil, fmt.Errorf("failed to migrate database: %w", err)
		}
	}
	return store, nil
}

// migrate 自动迁移数据库表结构
func (s *Store) migrate() error {
	return s.db.AutoMigrate(
		&domain.Domain{},
		&domain.Address{},
		&domain.Message{},
		&domain.Attachment{},
		&domain.DomainAccess{},
		&domain.AppSettings{},
		&domain.Profile{},
	)
}

// Ping 检查数据库连通性
func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Close 关闭连接池
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// translate 把驱动层错误转换为存储层哨兵错误
func translate(err, notFound error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		return notFound
	case isUniqueViolation(err):
		return storage.ErrAlreadyExists
	default:
		return err
	}
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	var myErr *mysqldriver.MySQLError
	if errors.As(err, &myErr) {
		return myErr.Number == 1062
	}
	return errors.Is(err, gorm.ErrDuplicatedKey)
}

// ========== Domain Repository ==========

// CreateDomain 保存新域名
func (s *Store) CreateDomain(ctx context.Context, d *domain.Domain) error {
	return translate(s.db.WithContext(ctx).Create(d).Error, storage.ErrDomainNotFound)
}

// GetDomain 根据 ID 获取域名
func (s *Store) GetDomain(ctx context.Context, id string) (*domain.Domain, error) {
	var d domain.Domain
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&d).Error; err != nil {
		return nil, translate(err, storage.ErrDomainNotFound)
	}
	return &d, nil
}

// GetDomainByName 按域名精确匹配
func (s *Store) GetDomainByName(ctx context.Context, name string) (*domain.Domain, error) {
	var d domain.Domain
	if err := s.db.WithContext(ctx).Where("domain = ?", name).First(&d).Error; err != nil {
		return nil, translate(err, storage.ErrDomainNotFound)
	}
	return &d, nil
}

// ListDomains 返回域名列表，ids 为 nil 时不过滤
func (s *Store) ListDomains(ctx context.Context, ids []string) ([]*domain.Domain, error) {
	out := make([]*domain.Domain, 0)
	if ids != nil && len(ids) == 0 {
		return out, nil
	}
	q := s.db.WithContext(ctx).Order("domain ASC")
	if ids != nil {
		q = q.Where("id IN ?", ids)
	}
	if err := q.Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

// MarkDomainVerified 标记域名已验证
func (s *Store) MarkDomainVerified(ctx context.Context, id string) error {
	res := s.db.WithContext(ctx).Model(&domain.Domain{}).Where("id = ?", id).Update("is_verified", true)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return storage.ErrDomainNotFound
	}
	return nil
}

// DeleteDomain 在事务中删除域名及其地址与授权
func (s *Store) DeleteDomain(ctx context.Context, id string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("domain_id = ?", id).Delete(&domain.Address{}).Error; err != nil {
			return err
		}
		if err := tx.Where("domain_id = ?", id).Delete(&domain.DomainAccess{}).Error; err != nil {
			return err
		}
		res := tx.Where("id = ?", id).Delete(&domain.Domain{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return storage.ErrDomainNotFound
		}
		return nil
	})
}

// ========== Address Repository ==========

// CreateAddress 保存新地址
func (s *Store) CreateAddress(ctx context.Context, a *domain.Address) error {
	return translate(s.db.WithContext(ctx).Create(a).Error, storage.ErrAddressNotFound)
}

// GetAddress 根据 ID 获取地址
func (s *Store) GetAddress(ctx context.Context, id string) (*domain.Address, error) {
	var a domain.Address
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&a).Error; err != nil {
		return nil, translate(err, storage.ErrAddressNotFound)
	}
	return &a, nil
}

// FindAddress 按域名与小写本地部分查找
func (s *Store) FindAddress(ctx context.Context, domainID, localPart string) (*domain.Address, error) {
	var a domain.Address
	err := s.db.WithContext(ctx).
		Where("domain_id = ? AND LOWER(local_part) = LOWER(?)", domainID, localPart).
		First(&a).Error
	if err != nil {
		return nil, translate(err, storage.ErrAddressNotFound)
	}
	return &a, nil
}

// ListAddresses 返回域名下的地址
func (s *Store) ListAddresses(ctx context.Context, domainID, createdBy string) ([]*domain.Address, error) {
	out := make([]*domain.Address, 0)
	q := s.db.WithContext(ctx).Where("domain_id = ?", domainID)
	if createdBy != "" {
		q = q.Where("created_by = ?", createdBy)
	}
	if err := q.Order("created_at ASC").Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

// CountAddressesByCreator 统计用户在域名下创建的地址数
func (s *Store) CountAddressesByCreator(ctx context.Context, domainID, userID string) (int, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&domain.Address{}).
		Where("domain_id = ? AND created_by = ?", domainID, userID).
		Count(&count).Error
	return int(count), err
}

// RecordDelivery 累加计数，并以条件更新完成 pending → active，首次收信时间只写一次
func (s *Store) RecordDelivery(ctx context.Context, id string, at time.Time) (bool, error) {
	db := s.db.WithContext(ctx)

	res := db.Model(&domain.Address{}).Where("id = ?", id).Updates(map[string]any{
		"mail_count":   gorm.Expr("mail_count + ?", 1),
		"last_mail_at": at,
	})
	if res.Error != nil {
		return false, res.Error
	}
	if res.RowsAffected == 0 {
		return false, storage.ErrAddressNotFound
	}

	res = db.Model(&domain.Address{}).
		Where("id = ? AND status = ?", id, domain.AddressStatusPending).
		Updates(map[string]any{
			"status":            domain.AddressStatusActive,
			"first_received_at": at,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// DeleteAddress 删除地址
func (s *Store) DeleteAddress(ctx context.Context, id string) error {
	res := s.db.WithContext(ctx).Where("id = ?", id).Delete(&domain.Address{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return storage.ErrAddressNotFound
	}
	return nil
}

// ========== Message Repository ==========

// CreateMessage 保存邮件
func (s *Store) CreateMessage(ctx context.Context, m *domain.Message) error {
	return translate(s.db.WithContext(ctx).Create(m).Error, storage.ErrMessageNotFound)
}

// GetMessage 根据 ID 获取邮件
func (s *Store) GetMessage(ctx context.Context, id string) (*domain.Message, error) {
	var m domain.Message
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&m).Error; err != nil {
		return nil, translate(err, storage.ErrMessageNotFound)
	}
	return &m, nil
}

// FindByMessageID 按 Message-ID 查找最早的一封
func (s *Store) FindByMessageID(ctx context.Context, messageID string) (*domain.Message, error) {
	var m domain.Message
	err := s.db.WithContext(ctx).
		Where("message_id = ?", messageID).
		Order("received_at ASC").
		Take(&m).Error
	if err != nil {
		return nil, translate(err, storage.ErrMessageNotFound)
	}
	return &m, nil
}

// ClaimThreadID 条件更新 thread_id，未抢到时读回胜出方写入的值
func (s *Store) ClaimThreadID(ctx context.Context, id, threadID string) (string, error) {
	db := s.db.WithContext(ctx)

	res := db.Model(&domain.Message{}).
		Where("id = ? AND (thread_id IS NULL OR thread_id = '')", id).
		Update("thread_id", threadID)
	if res.Error != nil {
		return "", res.Error
	}
	if res.RowsAffected > 0 {
		return threadID, nil
	}

	var m domain.Message
	if err := db.Select("thread_id").Where("id = ?", id).Take(&m).Error; err != nil {
		return "", translate(err, storage.ErrMessageNotFound)
	}
	return m.ThreadID, nil
}

// folderScope 文件夹视图对应的查询条件
func folderScope(f domain.Folder) func(*gorm.DB) *gorm.DB {
	return func(db *gorm.DB) *gorm.DB {
		switch f {
		case domain.FolderInbox, "":
			return db.Where("is_trash = ? AND is_archived = ? AND is_sent = ?", false, false, false)
		case domain.FolderSent:
			return db.Where("is_sent = ? AND is_trash = ?", true, false)
		case domain.FolderStarred:
			return db.Where("is_starred = ? AND is_trash = ?", true, false)
		case domain.FolderArchive:
			return db.Where("is_archived = ? AND is_trash = ?", true, false)
		case domain.FolderTrash:
			return db.Where("is_trash = ?", true)
		default:
			return db.Where("folder = ? AND is_trash = ?", f, false)
		}
	}
}

// domainScope 只保留属于指定域名地址的邮件
func (s *Store) domainScope(ids []string) func(*gorm.DB) *gorm.DB {
	return func(db *gorm.DB) *gorm.DB {
		if ids == nil {
			return db
		}
		sub := s.db.Model(&domain.Address{}).Select("id").Where("domain_id IN ?", ids)
		return db.Where("email_address_id IN (?)", sub)
	}
}

// ListMessages 按文件夹视图查询，接收时间倒序
func (s *Store) ListMessages(ctx context.Context, filter domain.MessageFilter) ([]*domain.Message, error) {
	out := make([]*domain.Message, 0)
	if filter.DomainIDs != nil && len(filter.DomainIDs) == 0 {
		return out, nil
	}
	q := s.db.WithContext(ctx).
		Scopes(folderScope(filter.Folder), s.domainScope(filter.DomainIDs)).
		Order("received_at DESC")
	if filter.Limit > 0 {
		q = q.Limit(filter.Limit)
	}
	if filter.Offset > 0 {
		q = q.Offset(filter.Offset)
	}
	if err := q.Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

// ListThread 返回会话内未删除的邮件
func (s *Store) ListThread(ctx context.Context, threadID string, domainIDs []string) ([]*domain.Message, error) {
	out := make([]*domain.Message, 0)
	if domainIDs != nil && len(domainIDs) == 0 {
		return out, nil
	}
	err := s.db.WithContext(ctx).
		Scopes(s.domainScope(domainIDs)).
		Where("thread_id = ? AND is_trash = ?", threadID, false).
		Order("received_at ASC").
		Find(&out).Error
	if err != nil {
		return nil, err
	}
	return out, nil
}

var flagColumns = map[domain.MessageFlag]string{
	domain.FlagRead:     "is_read",
	domain.FlagStarred:  "is_starred",
	domain.FlagArchived: "is_archived",
	domain.FlagTrash:    "is_trash",
}

// SetMessageFlag 设置单个标记
func (s *Store) SetMessageFlag(ctx context.Context, id string, flag domain.MessageFlag, value bool) error {
	column, ok := flagColumns[flag]
	if !ok {
		return fmt.Errorf("unknown message flag %q", flag)
	}
	res := s.db.WithContext(ctx).Model(&domain.Message{}).Where("id = ?", id).Update(column, value)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return storage.ErrMessageNotFound
	}
	return nil
}

// DeleteMessage 在事务中删除邮件与附件记录
func (s *Store) DeleteMessage(ctx context.Context, id string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("email_id = ?", id).Delete(&domain.Attachment{}).Error; err != nil {
			return err
		}
		res := tx.Where("id = ?", id).Delete(&domain.Message{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return storage.ErrMessageNotFound
		}
		return nil
	})
}

// ========== Attachment Repository ==========

// CreateAttachment 保存附件元数据
func (s *Store) CreateAttachment(ctx context.Context, a *domain.Attachment) error {
	return translate(s.db.WithContext(ctx).Create(a).Error, storage.ErrAttachmentNotFound)
}

// GetAttachment 根据 ID 获取附件
func (s *Store) GetAttachment(ctx context.Context, id string) (*domain.Attachment, error) {
	var a domain.Attachment
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&a).Error; err != nil {
		return nil, translate(err, storage.ErrAttachmentNotFound)
	}
	return &a, nil
}

// ListAttachments 返回邮件的附件
func (s *Store) ListAttachments(ctx context.Context, messageID string) ([]*domain.Attachment, error) {
	out := make([]*domain.Attachment, 0)
	err := s.db.WithContext(ctx).Where("email_id = ?", messageID).Order("created_at ASC").Find(&out).Error
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ========== Access Repository ==========

// UpsertAccess 按 (user_id, domain_id) 新增或更新配额
func (s *Store) UpsertAccess(ctx context.Context, a *domain.DomainAccess) error {
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}, {Name: "domain_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"mailbox_limit"}),
	}).Create(a).Error
	if err != nil {
		return translate(err, storage.ErrAccessNotFound)
	}
	stored, err := s.GetAccess(ctx, a.UserID, a.DomainID)
	if err != nil {
		return err
	}
	*a = *stored
	return nil
}

// GetAccess 获取授权
func (s *Store) GetAccess(ctx context.Context, userID, domainID string) (*domain.DomainAccess, error) {
	var a domain.DomainAccess
	err := s.db.WithContext(ctx).Where("user_id = ? AND domain_id = ?", userID, domainID).First(&a).Error
	if err != nil {
		return nil, translate(err, storage.ErrAccessNotFound)
	}
	return &a, nil
}

// ListAccess 列出授权
func (s *Store) ListAccess(ctx context.Context, userID string) ([]*domain.DomainAccess, error) {
	out := make([]*domain.DomainAccess, 0)
	q := s.db.WithContext(ctx).Order("created_at ASC")
	if userID != "" {
		q = q.Where("user_id = ?", userID)
	}
	if err := q.Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

// DeleteAccess 撤销授权
func (s *Store) DeleteAccess(ctx context.Context, userID, domainID string) error {
	res := s.db.WithContext(ctx).Where("user_id = ? AND domain_id = ?", userID, domainID).Delete(&domain.DomainAccess{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return storage.ErrAccessNotFound
	}
	return nil
}

// ========== Profile Repository ==========

// EnsureProfile 主键冲突时什么都不做，再读回已有记录
func (s *Store) EnsureProfile(ctx context.Context, p *domain.Profile) error {
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(p).Error
	if err != nil {
		return translate(err, storage.ErrProfileNotFound)
	}
	stored, err := s.GetProfile(ctx, p.ID)
	if err != nil {
		return err
	}
	*p = *stored
	return nil
}

// GetProfile 获取用户资料
func (s *Store) GetProfile(ctx context.Context, id string) (*domain.Profile, error) {
	var p domain.Profile
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&p).Error; err != nil {
		return nil, translate(err, storage.ErrProfileNotFound)
	}
	return &p, nil
}

// ListProfiles 列出全部用户资料
func (s *Store) ListProfiles(ctx context.Context) ([]*domain.Profile, error) {
	out := make([]*domain.Profile, 0)
	if err := s.db.WithContext(ctx).Order("created_at DESC").Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

// UpdateProfileRole 修改角色
func (s *Store) UpdateProfileRole(ctx context.Context, id string, role domain.ProfileRole) error {
	res := s.db.WithContext(ctx).Model(&domain.Profile{}).Where("id = ?", id).
		Updates(map[string]interface{}{"role": role, "updated_at": time.Now()})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return storage.ErrProfileNotFound
	}
	return nil
}

// GetSettings 读取全局设置，不存在时返回空设置
func (s *Store) GetSettings(ctx context.Context) (*domain.AppSettings, error) {
	var settings domain.AppSettings
	err := s.db.WithContext(ctx).Where("id = ?", domain.AppSettingsID).First(&settings).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return &domain.AppSettings{ID: domain.AppSettingsID}, nil
	}
	if err != nil {
		return nil, err
	}
	return &settings, nil
}

// SaveSettings 保存全局设置
func (s *Store) SaveSettings(ctx context.Context, settings *domain.AppSettings) error {
	settings.ID = domain.AppSettingsID
	return s.db.WithContext(ctx).Save(settings).Error
}
