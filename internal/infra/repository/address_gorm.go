package repository

import (
	"brickshop/internal/domain/model"
	repo "brickshop/internal/repository"
	"context"

	"gorm.io/gorm"
)

type addressGormRepository struct {
	db *gorm.DB
}

// DI
func NewAddressGormRepository(db *gorm.DB) repo.AddressRepository {
	return &addressGormRepository{db: db}
}

// 住所を作成（is_default=true なら他を外してから入れる）
func (r *addressGormRepository) Create(ctx context.Context, address model.Address) (model.Address, error) {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if address.IsDefault {
			if err := unsetDefaults(tx, address.UserID); err != nil {
				return err
			}
		}
		return tx.Create(&address).Error
	})
	if err != nil {
		return model.Address{}, translate(err)
	}
	return address, nil
}

// デフォルトが先頭
func (r *addressGormRepository) ListByUserID(ctx context.Context, userID int64) ([]model.Address, error) {
	var list []model.Address
	if err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("is_default DESC, id ASC").
		Find(&list).Error; err != nil {
		return nil, err
	}
	return list, nil
}

func (r *addressGormRepository) FindByID(ctx context.Context, addressID int64) (model.Address, error) {
	var a model.Address
	if err := r.db.WithContext(ctx).First(&a, addressID).Error; err != nil {
		return model.Address{}, translate(err)
	}
	return a, nil
}

func (r *addressGormRepository) FindDefault(ctx context.Context, userID int64) (model.Address, error) {
	var a model.Address
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND is_default = ?", userID, true).
		First(&a).Error
	if err != nil {
		return model.Address{}, translate(err)
	}
	return a, nil
}

// 全項目一致の住所を探す
func (r *addressGormRepository) FindSame(ctx context.Context, userID int64, address model.Address) (model.Address, bool, error) {
	var a model.Address
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Where(map[string]interface{}{
			"recipient_name": address.RecipientName,
			"cep":            address.CEP,
			"street":         address.Street,
			"number":         address.Number,
			"complement":     address.Complement,
			"neighborhood":   address.Neighborhood,
			"city":           address.City,
			"state":          address.State,
		}).
		Order("id asc").
		First(&a).Error
	if isNotFound(err) {
		return model.Address{}, false, nil
	}
	if err != nil {
		return model.Address{}, false, err
	}
	return a, true, nil
}

// 住所を更新（is_default=true なら他を外す）
func (r *addressGormRepository) Update(ctx context.Context, address model.Address) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if address.IsDefault {
			if err := unsetDefaults(tx, address.UserID); err != nil {
				return err
			}
		}

		result := tx.Model(&model.Address{}).
			Where("id = ? AND user_id = ?", address.ID, address.UserID).
			Select(
				"recipient_name",
				"cep",
				"street",
				"number",
				"complement",
				"neighborhood",
				"city",
				"state",
				"phone",
				"is_default",
				"updated_at",
			).
			Updates(address)

		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return repo.ErrNotFound
		}
		return nil
	})
}

func (r *addressGormRepository) Delete(ctx context.Context, addressID int64) error {
	result := r.db.WithContext(ctx).
		Where("id = ?", addressID).
		Delete(&model.Address{})

	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return repo.ErrNotFound
	}
	return nil
}

func (r *addressGormRepository) IsOwnedByUser(ctx context.Context, addressID, userID int64) (bool, error) {
	var count int64
	if err := r.db.WithContext(ctx).
		Model(&model.Address{}).
		Where("id = ?", addressID).
		Count(&count).Error; err != nil {
		return false, err
	}
	if count == 0 {
		return false, repo.ErrNotFound
	}

	if err := r.db.WithContext(ctx).
		Model(&model.Address{}).
		Where("id = ? AND user_id = ?", addressID, userID).
		Count(&count).Error; err != nil {
		return false, err
	}
	return count == 1, nil
}

// デフォルト住所を切り替える
func (r *addressGormRepository) SetDefault(ctx context.Context, userID, addressID int64) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&model.Address{}).
			Where("id = ? AND user_id = ?", addressID, userID).
			Count(&count).Error; err != nil {
			return err
		}
		if count == 0 {
			return repo.ErrNotFound
		}

		if err := unsetDefaults(tx, userID); err != nil {
			return err
		}

		return tx.Model(&model.Address{}).
			Where("id = ? AND user_id = ?", addressID, userID).
			Update("is_default", true).Error
	})
}

func (r *addressGormRepository) ReassignUser(ctx context.Context, fromUserID, toUserID int64) (int64, error) {
	//引き継いだ住所はデフォルトにしない（本会員側のデフォルトを優先）
	res := r.db.WithContext(ctx).
		Model(&model.Address{}).
		Where("user_id = ?", fromUserID).
		Updates(map[string]interface{}{"user_id": toUserID, "is_default": false})
	return res.RowsAffected, res.Error
}

func (r *addressGormRepository) ReassignByID(ctx context.Context, addressID, toUserID int64) error {
	res := r.db.WithContext(ctx).
		Model(&model.Address{}).
		Where("id = ?", addressID).
		Updates(map[string]interface{}{"user_id": toUserID, "is_default": false})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return repo.ErrNotFound
	}
	return nil
}

func unsetDefaults(tx *gorm.DB, userID int64) error {
	return tx.Model(&model.Address{}).
		Where("user_id = ? AND is_default = ?", userID, true).
		Update("is_default", false).Error
}
