// persistence/gorm_postgresql.go
package persistence

import (
	"fmt"
	"log"
	"os"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/wfunc/chatserver/models"
)

// GormPostgres 使用GORM的PostgreSQL实现
type GormPostgres struct {
	db *gorm.DB
}

// NewGormPostgres 创建GORM PostgreSQL数据库连接
func NewGormPostgres(host string, port int, user, password, dbname string) (*GormPostgres, error) {
	dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=disable",
		host, port, user, password, dbname)

	// 配置GORM日志
	dbLogger := gormlogger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		gormlogger.Config{
			SlowThreshold: time.Second,
			LogLevel:      gormlogger.Silent,
			Colorful:      false,
		},
	)

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: dbLogger,
	})
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}

	// 设置连接池
	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetMaxOpenConns(100)
	sqlDB.SetConnMaxLifetime(time.Hour)

	// 自动迁移表结构
	if err := autoMigrate(db); err != nil {
		return nil, err
	}

	return &GormPostgres{db: db}, nil
}

func autoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&models.GormUser{},
		&models.GormRoom{},
		&models.GormChest{},
		&models.GormMessage{},
		&models.GormParticipant{},
		&models.GormVoicePresence{},
		&models.GormChestClaim{},
	)
}

// --- 用户与余额 ---

func (p *GormPostgres) GetUser(userID int64) (*models.User, error) {
	var row models.GormUser
	if err := p.db.Where("user_id = ?", userID).First(&row).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, ErrRecordNotFound
		}
		return nil, err
	}
	return &models.User{
		UserID:    row.UserID,
		Name:      row.Name,
		Diamonds:  row.Diamonds,
		CreatedAt: row.CreatedAt,
		UpdatedAt: row.UpdatedAt,
	}, nil
}

func (p *GormPostgres) UpsertUser(user *models.User) error {
	var row models.GormUser
	result := p.db.Where("user_id = ?", user.UserID).First(&row)

	if result.Error == gorm.ErrRecordNotFound {
		row = models.GormUser{
			UserID:   user.UserID,
			Name:     user.Name,
			Diamonds: user.Diamonds,
		}
		return p.db.Create(&row).Error
	} else if result.Error != nil {
		return result.Error
	}

	row.Name = user.Name
	return p.db.Save(&row).Error
}

func (p *GormPostgres) AdjustDiamonds(userID int64, delta int64) error {
	return p.db.Transaction(func(tx *gorm.DB) error {
		return adjustDiamondsTx(tx, userID, delta)
	})
}

// adjustDiamondsTx 在事务内调整余额；扣减带余额下限守卫。
func adjustDiamondsTx(tx *gorm.DB, userID int64, delta int64) error {
	query := tx.Model(&models.GormUser{}).Where("user_id = ?", userID)
	if delta < 0 {
		query = query.Where("diamonds >= ?", -delta)
	}
	result := query.Update("diamonds", gorm.Expr("diamonds + ?", delta))
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		var count int64
		if err := tx.Model(&models.GormUser{}).Where("user_id = ?", userID).Count(&count).Error; err != nil {
			return err
		}
		if count == 0 {
			return ErrRecordNotFound
		}
		return ErrInsufficientFunds
	}
	return nil
}

// --- 房间 ---

func (p *GormPostgres) CreateRoom(room *models.Room) error {
	row := models.GormRoom{
		RoomID:        room.RoomID,
		CreatorID:     room.CreatorID,
		Name:          room.Name,
		Description:   room.Description,
		GameEnabled:   room.GameEnabled,
		ActiveChestID: room.ActiveChestID,
		ExpiresAt:     room.ExpiresAt,
	}
	return p.db.Create(&row).Error
}

func (p *GormPostgres) GetRoom(roomID string) (*models.Room, error) {
	var row models.GormRoom
	if err := p.db.Where("room_id = ?", roomID).First(&row).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, ErrRecordNotFound
		}
		return nil, err
	}
	return roomFromRow(&row), nil
}

func roomFromRow(row *models.GormRoom) *models.Room {
	return &models.Room{
		RoomID:        row.RoomID,
		CreatorID:     row.CreatorID,
		Name:          row.Name,
		Description:   row.Description,
		GameEnabled:   row.GameEnabled,
		ActiveChestID: row.ActiveChestID,
		ExpiresAt:     row.ExpiresAt,
		CreatedAt:     row.CreatedAt,
	}
}

func (p *GormPostgres) UpdateRoom(room *models.Room) error {
	result := p.db.Model(&models.GormRoom{}).Where("room_id = ?", room.RoomID).Updates(map[string]interface{}{
		"name":         room.Name,
		"description":  room.Description,
		"game_enabled": room.GameEnabled,
		"expires_at":   room.ExpiresAt,
	})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrRecordNotFound
	}
	return nil
}

func (p *GormPostgres) ListExpiredRooms(now time.Time) ([]string, error) {
	var ids []string
	err := p.db.Model(&models.GormRoom{}).Where("expires_at <= ?", now).Pluck("room_id", &ids).Error
	return ids, err
}

// --- 宝箱 ---

func (p *GormPostgres) CreateChest(chest *models.Chest, fee int64, announcement *models.Message) error {
	return p.db.Transaction(func(tx *gorm.DB) error {
		// 条件占位：只有当前没有宝箱时才能挂新宝箱
		slot := tx.Model(&models.GormRoom{}).
			Where("room_id = ? AND active_chest_id IS NULL", chest.RoomID).
			Update("active_chest_id", chest.ChestID)
		if slot.Error != nil {
			return slot.Error
		}
		if slot.RowsAffected == 0 {
			var count int64
			if err := tx.Model(&models.GormRoom{}).Where("room_id = ?", chest.RoomID).Count(&count).Error; err != nil {
				return err
			}
			if count == 0 {
				return ErrRecordNotFound
			}
			return ErrChestActive
		}

		// 创建者付出 total + fee
		if err := adjustDiamondsTx(tx, chest.CreatorID, -(chest.TotalDiamonds + fee)); err != nil {
			return err
		}

		row := models.GormChest{
			ChestID:           chest.ChestID,
			RoomID:            chest.RoomID,
			CreatorID:         chest.CreatorID,
			CreatorName:       chest.CreatorName,
			TotalDiamonds:     chest.TotalDiamonds,
			RemainingDiamonds: chest.RemainingDiamonds,
			MaxWinners:        chest.MaxWinners,
			Winners:           chest.Winners,
			Version:           chest.Version,
			ExpiresAt:         chest.ExpiresAt,
		}
		if err := tx.Create(&row).Error; err != nil {
			return err
		}

		if announcement != nil {
			return tx.Create(&models.GormMessage{
				RoomID:     announcement.RoomID,
				SenderID:   announcement.SenderID,
				SenderName: announcement.SenderName,
				Kind:       announcement.Kind,
				Body:       announcement.Body,
			}).Error
		}
		return nil
	})
}

func (p *GormPostgres) GetChest(chestID string) (*models.Chest, error) {
	var row models.GormChest
	if err := p.db.Where("chest_id = ?", chestID).First(&row).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, ErrRecordNotFound
		}
		return nil, err
	}
	return &models.Chest{
		ChestID:           row.ChestID,
		RoomID:            row.RoomID,
		CreatorID:         row.CreatorID,
		CreatorName:       row.CreatorName,
		TotalDiamonds:     row.TotalDiamonds,
		RemainingDiamonds: row.RemainingDiamonds,
		MaxWinners:        row.MaxWinners,
		Winners:           row.Winners,
		Version:           row.Version,
		CreatedAt:         row.CreatedAt,
		ExpiresAt:         row.ExpiresAt,
	}, nil
}

func (p *GormPostgres) ApplyClaim(update *ClaimUpdate) error {
	return p.db.Transaction(func(tx *gorm.DB) error {
		// 带版本号的条件更新；并发领取在这里串行化
		result := tx.Model(&models.GormChest{}).
			Where("chest_id = ? AND version = ?", update.ChestID, update.Version).
			Updates(map[string]interface{}{
				"remaining_diamonds": update.Remaining,
				"winners":            update.Winners,
				"version":            update.Version + 1,
			})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			var count int64
			if err := tx.Model(&models.GormChest{}).Where("chest_id = ?", update.ChestID).Count(&count).Error; err != nil {
				return err
			}
			if count == 0 {
				return ErrRecordNotFound
			}
			return ErrVersionConflict
		}

		if err := adjustDiamondsTx(tx, update.UserID, update.Awarded); err != nil {
			return err
		}

		if err := tx.Create(&models.GormChestClaim{
			ChestID: update.ChestID,
			RoomID:  update.RoomID,
			UserID:  update.UserID,
			Amount:  update.Awarded,
		}).Error; err != nil {
			return err
		}

		if update.Terminal {
			return tx.Model(&models.GormRoom{}).
				Where("room_id = ? AND active_chest_id = ?", update.RoomID, update.ChestID).
				Update("active_chest_id", nil).Error
		}
		return nil
	})
}

// --- 消息与成员 ---

func (p *GormPostgres) AppendMessage(msg *models.Message) error {
	return p.db.Create(&models.GormMessage{
		RoomID:     msg.RoomID,
		SenderID:   msg.SenderID,
		SenderName: msg.SenderName,
		Kind:       msg.Kind,
		Body:       msg.Body,
	}).Error
}

func (p *GormPostgres) RecentMessages(roomID string, limit int) ([]models.Message, error) {
	var rows []models.GormMessage
	err := p.db.Where("room_id = ?", roomID).Order("id DESC").Limit(limit).Find(&rows).Error
	if err != nil {
		return nil, err
	}
	// 倒序取出，正序返回
	msgs := make([]models.Message, 0, len(rows))
	for i := len(rows) - 1; i >= 0; i-- {
		r := rows[i]
		msgs = append(msgs, models.Message{
			RoomID:     r.RoomID,
			SenderID:   r.SenderID,
			SenderName: r.SenderName,
			Kind:       r.Kind,
			Body:       r.Body,
			CreatedAt:  r.CreatedAt,
		})
	}
	return msgs, nil
}

func (p *GormPostgres) AddParticipant(roomID string, userID int64, userName string) error {
	var row models.GormParticipant
	result := p.db.Where("room_id = ? AND user_id = ?", roomID, userID).First(&row)
	if result.Error == gorm.ErrRecordNotFound {
		return p.db.Create(&models.GormParticipant{
			RoomID:   roomID,
			UserID:   userID,
			UserName: userName,
		}).Error
	}
	return result.Error
}

func (p *GormPostgres) RemoveParticipant(roomID string, userID int64) error {
	return p.db.Where("room_id = ? AND user_id = ?", roomID, userID).Delete(&models.GormParticipant{}).Error
}

func (p *GormPostgres) SetVoicePresence(roomID string, userID int64, present bool) error {
	if !present {
		return p.db.Where("room_id = ? AND user_id = ?", roomID, userID).Delete(&models.GormVoicePresence{}).Error
	}
	var row models.GormVoicePresence
	result := p.db.Where("room_id = ? AND user_id = ?", roomID, userID).First(&row)
	if result.Error == gorm.ErrRecordNotFound {
		return p.db.Create(&models.GormVoicePresence{RoomID: roomID, UserID: userID}).Error
	}
	return result.Error
}

// --- 级联删除 ---

// cascadeTables 按删除顺序列出的附属表；房间行最后删。
var cascadeTables = []string{"messages", "chest_claims", "voice_presences", "participants", "chests"}

func (p *GormPostgres) DeleteRoomCascade(roomID string, batchSize int) (int64, error) {
	if batchSize <= 0 {
		batchSize = 500
	}
	var deleted int64
	for _, table := range cascadeTables {
		for {
			// PostgreSQL 不支持 DELETE ... LIMIT，用 ctid 子查询分批
			result := p.db.Exec(fmt.Sprintf(
				`DELETE FROM %s WHERE ctid IN (SELECT ctid FROM %s WHERE room_id = ? LIMIT ?)`,
				table, table), roomID, batchSize)
			if result.Error != nil {
				return deleted, &PartialCascadeError{RoomID: roomID, Deleted: deleted, Cause: result.Error}
			}
			deleted += result.RowsAffected
			if result.RowsAffected < int64(batchSize) {
				break
			}
		}
	}

	result := p.db.Where("room_id = ?", roomID).Delete(&models.GormRoom{})
	if result.Error != nil {
		return deleted, &PartialCascadeError{RoomID: roomID, Deleted: deleted, Cause: result.Error}
	}
	deleted += result.RowsAffected
	return deleted, nil
}

func (p *GormPostgres) Close() error {
	sqlDB, err := p.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
