package repository

import (
	"brickshop/internal/domain/model"
	domainrepo "brickshop/internal/repository"
	"context"

	"gorm.io/gorm"
)

type userGormRepository struct {
	db *gorm.DB
}

// DI
func NewUserGormRepository(db *gorm.DB) domainrepo.UserRepository {
	return &userGormRepository{db: db}
}

func (r *userGormRepository) Create(ctx context.Context, user *model.User) error {
	return translate(r.db.WithContext(ctx).Create(user).Error)
}

func (r *userGormRepository) first(ctx context.Context, query string, args ...interface{}) (*model.User, error) {
	var u model.User
	err := r.db.WithContext(ctx).Where(query, args...).Order("id asc").First(&u).Error
	if isNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func (r *userGormRepository) FindByID(ctx context.Context, id int64) (*model.User, error) {
	return r.first(ctx, "id = ?", id)
}

// 本会員のみ
func (r *userGormRepository) FindByEmail(ctx context.Context, email string) (*model.User, error) {
	return r.first(ctx, "email = ? AND is_guest = ?", email, false)
}

func (r *userGormRepository) FindGuestByEmail(ctx context.Context, email string) (*model.User, error) {
	return r.first(ctx, "email = ? AND is_guest = ?", email, true)
}

func (r *userGormRepository) FindGuestByCPF(ctx context.Context, cpf string) (*model.User, error) {
	return r.first(ctx, "cpf = ? AND is_guest = ?", cpf, true)
}

func (r *userGormRepository) ListGuestsByEmail(ctx context.Context, email string) ([]model.User, error) {
	var list []model.User
	if err := r.db.WithContext(ctx).
		Where("email = ? AND is_guest = ?", email, true).
		Order("id asc").
		Find(&list).Error; err != nil {
		return nil, err
	}
	return list, nil
}

func (r *userGormRepository) FindByResetTokenHash(ctx context.Context, tokenHash string) (*model.User, error) {
	if tokenHash == "" {
		return nil, nil
	}
	return r.first(ctx, "reset_token_hash = ?", tokenHash)
}

func (r *userGormRepository) Update(ctx context.Context, user *model.User) error {
	return translate(r.db.WithContext(ctx).Save(user).Error)
}

// token_versionを+1
func (r *userGormRepository) IncrementTokenVersion(ctx context.Context, id int64) error {
	res := r.db.WithContext(ctx).
		Model(&model.User{}).
		Where("id = ?", id).
		UpdateColumn("token_version", gorm.Expr("token_version + ?", 1))

	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return domainrepo.ErrNotFound
	}
	return nil
}
