// persistence/postgresql.go
package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	// PostgreSQL 驱动
	_ "github.com/lib/pq"

	"github.com/wfunc/chatserver/models"
)

// PostgreSQL 不经ORM的 database/sql 实现
type PostgreSQL struct {
	db *sql.DB
}

// NewPostgreSQL 创建 PostgreSQL 数据库连接
func NewPostgreSQL(host string, port int, user, password, dbname string) (*PostgreSQL, error) {
	connStr := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=disable",
		host, port, user, password, dbname)

	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, err
	}

	// 测试连接
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		return nil, err
	}

	// 设置连接池参数
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(5 * time.Minute)

	// 初始化表结构
	if err := initTables(db); err != nil {
		return nil, err
	}

	return &PostgreSQL{db: db}, nil
}

// initTables 初始化数据库表结构
func initTables(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS users (
            id SERIAL PRIMARY KEY,
            user_id BIGINT UNIQUE NOT NULL,
            name VARCHAR(255) NOT NULL,
            diamonds BIGINT NOT NULL DEFAULT 0,
            created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
            updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
        )`,
		`CREATE TABLE IF NOT EXISTS rooms (
            id SERIAL PRIMARY KEY,
            room_id VARCHAR(64) UNIQUE NOT NULL,
            creator_id BIGINT NOT NULL,
            name VARCHAR(255) NOT NULL,
            description TEXT,
            game_enabled BOOLEAN NOT NULL DEFAULT TRUE,
            active_chest_id VARCHAR(64),
            expires_at TIMESTAMP NOT NULL,
            created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
            updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
        )`,
		`CREATE TABLE IF NOT EXISTS chests (
            id SERIAL PRIMARY KEY,
            chest_id VARCHAR(64) UNIQUE NOT NULL,
            room_id VARCHAR(64) NOT NULL,
            creator_id BIGINT NOT NULL,
            creator_name VARCHAR(255) NOT NULL,
            total_diamonds BIGINT NOT NULL,
            remaining_diamonds BIGINT NOT NULL,
            max_winners INT NOT NULL,
            winners JSONB NOT NULL DEFAULT '{}'::jsonb,
            version BIGINT NOT NULL DEFAULT 1,
            expires_at TIMESTAMP NOT NULL,
            created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
        )`,
		`CREATE TABLE IF NOT EXISTS messages (
            id SERIAL PRIMARY KEY,
            room_id VARCHAR(64) NOT NULL,
            sender_id BIGINT NOT NULL,
            sender_name VARCHAR(255),
            kind VARCHAR(16) NOT NULL DEFAULT 'chat',
            body TEXT NOT NULL,
            created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
        )`,
		`CREATE TABLE IF NOT EXISTS participants (
            id SERIAL PRIMARY KEY,
            room_id VARCHAR(64) NOT NULL,
            user_id BIGINT NOT NULL,
            user_name VARCHAR(255),
            created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
            UNIQUE (room_id, user_id)
        )`,
		`CREATE TABLE IF NOT EXISTS voice_presences (
            id SERIAL PRIMARY KEY,
            room_id VARCHAR(64) NOT NULL,
            user_id BIGINT NOT NULL,
            created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
            UNIQUE (room_id, user_id)
        )`,
		`CREATE TABLE IF NOT EXISTS chest_claims (
            id SERIAL PRIMARY KEY,
            chest_id VARCHAR(64) NOT NULL,
            room_id VARCHAR(64) NOT NULL,
            user_id BIGINT NOT NULL,
            amount BIGINT NOT NULL,
            created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
        )`,
		`CREATE INDEX IF NOT EXISTS idx_messages_room ON messages (room_id)`,
		`CREATE INDEX IF NOT EXISTS idx_chests_room ON chests (room_id)`,
		`CREATE INDEX IF NOT EXISTS idx_claims_chest ON chest_claims (chest_id)`,
		`CREATE INDEX IF NOT EXISTS idx_rooms_expires ON rooms (expires_at)`,
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// --- 用户与余额 ---

func (p *PostgreSQL) GetUser(userID int64) (*models.User, error) {
	var u models.User
	err := p.db.QueryRow(
		`SELECT user_id, name, diamonds, created_at, updated_at FROM users WHERE user_id = $1`,
		userID,
	).Scan(&u.UserID, &u.Name, &u.Diamonds, &u.CreatedAt, &u.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrRecordNotFound
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func (p *PostgreSQL) UpsertUser(user *models.User) error {
	_, err := p.db.Exec(`
        INSERT INTO users (user_id, name, diamonds) VALUES ($1, $2, $3)
        ON CONFLICT (user_id) DO UPDATE SET name = EXCLUDED.name, updated_at = CURRENT_TIMESTAMP`,
		user.UserID, user.Name, user.Diamonds)
	return err
}

func (p *PostgreSQL) AdjustDiamonds(userID int64, delta int64) error {
	tx, err := p.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := adjustDiamondsSQL(tx, userID, delta); err != nil {
		return err
	}
	return tx.Commit()
}

func adjustDiamondsSQL(tx *sql.Tx, userID int64, delta int64) error {
	var result sql.Result
	var err error
	if delta < 0 {
		result, err = tx.Exec(
			`UPDATE users SET diamonds = diamonds + $1, updated_at = CURRENT_TIMESTAMP
             WHERE user_id = $2 AND diamonds >= $3`,
			delta, userID, -delta)
	} else {
		result, err = tx.Exec(
			`UPDATE users SET diamonds = diamonds + $1, updated_at = CURRENT_TIMESTAMP WHERE user_id = $2`,
			delta, userID)
	}
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		var count int64
		if err := tx.QueryRow(`SELECT COUNT(*) FROM users WHERE user_id = $1`, userID).Scan(&count); err != nil {
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

func (p *PostgreSQL) CreateRoom(room *models.Room) error {
	_, err := p.db.Exec(`
        INSERT INTO rooms (room_id, creator_id, name, description, game_enabled, active_chest_id, expires_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		room.RoomID, room.CreatorID, room.Name, room.Description, room.GameEnabled, room.ActiveChestID, room.ExpiresAt)
	return err
}

func (p *PostgreSQL) GetRoom(roomID string) (*models.Room, error) {
	var r models.Room
	err := p.db.QueryRow(`
        SELECT room_id, creator_id, name, description, game_enabled, active_chest_id, expires_at, created_at
        FROM rooms WHERE room_id = $1`, roomID,
	).Scan(&r.RoomID, &r.CreatorID, &r.Name, &r.Description, &r.GameEnabled, &r.ActiveChestID, &r.ExpiresAt, &r.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrRecordNotFound
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func (p *PostgreSQL) UpdateRoom(room *models.Room) error {
	result, err := p.db.Exec(`
        UPDATE rooms SET name = $1, description = $2, game_enabled = $3, expires_at = $4, updated_at = CURRENT_TIMESTAMP
        WHERE room_id = $5`,
		room.Name, room.Description, room.GameEnabled, room.ExpiresAt, room.RoomID)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrRecordNotFound
	}
	return nil
}

func (p *PostgreSQL) ListExpiredRooms(now time.Time) ([]string, error) {
	rows, err := p.db.Query(`SELECT room_id FROM rooms WHERE expires_at <= $1`, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// --- 宝箱 ---

func (p *PostgreSQL) CreateChest(chest *models.Chest, fee int64, announcement *models.Message) error {
	tx, err := p.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	slot, err := tx.Exec(
		`UPDATE rooms SET active_chest_id = $1, updated_at = CURRENT_TIMESTAMP
         WHERE room_id = $2 AND active_chest_id IS NULL`,
		chest.ChestID, chest.RoomID)
	if err != nil {
		return err
	}
	affected, err := slot.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		var count int64
		if err := tx.QueryRow(`SELECT COUNT(*) FROM rooms WHERE room_id = $1`, chest.RoomID).Scan(&count); err != nil {
			return err
		}
		if count == 0 {
			return ErrRecordNotFound
		}
		return ErrChestActive
	}

	if err := adjustDiamondsSQL(tx, chest.CreatorID, -(chest.TotalDiamonds + fee)); err != nil {
		return err
	}

	if _, err := tx.Exec(`
        INSERT INTO chests (chest_id, room_id, creator_id, creator_name, total_diamonds, remaining_diamonds,
                            max_winners, winners, version, expires_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		chest.ChestID, chest.RoomID, chest.CreatorID, chest.CreatorName, chest.TotalDiamonds,
		chest.RemainingDiamonds, chest.MaxWinners, chest.Winners, chest.Version, chest.ExpiresAt); err != nil {
		return err
	}

	if announcement != nil {
		if _, err := tx.Exec(`
            INSERT INTO messages (room_id, sender_id, sender_name, kind, body) VALUES ($1, $2, $3, $4, $5)`,
			announcement.RoomID, announcement.SenderID, announcement.SenderName, announcement.Kind, announcement.Body); err != nil {
			return err
		}
	}

	return tx.Commit()
}

func (p *PostgreSQL) GetChest(chestID string) (*models.Chest, error) {
	var c models.Chest
	err := p.db.QueryRow(`
        SELECT chest_id, room_id, creator_id, creator_name, total_diamonds, remaining_diamonds,
               max_winners, winners, version, expires_at, created_at
        FROM chests WHERE chest_id = $1`, chestID,
	).Scan(&c.ChestID, &c.RoomID, &c.CreatorID, &c.CreatorName, &c.TotalDiamonds, &c.RemainingDiamonds,
		&c.MaxWinners, &c.Winners, &c.Version, &c.ExpiresAt, &c.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrRecordNotFound
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (p *PostgreSQL) ApplyClaim(update *ClaimUpdate) error {
	tx, err := p.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	result, err := tx.Exec(`
        UPDATE chests SET remaining_diamonds = $1, winners = $2, version = version + 1
        WHERE chest_id = $3 AND version = $4`,
		update.Remaining, update.Winners, update.ChestID, update.Version)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		var count int64
		if err := tx.QueryRow(`SELECT COUNT(*) FROM chests WHERE chest_id = $1`, update.ChestID).Scan(&count); err != nil {
			return err
		}
		if count == 0 {
			return ErrRecordNotFound
		}
		return ErrVersionConflict
	}

	if err := adjustDiamondsSQL(tx, update.UserID, update.Awarded); err != nil {
		return err
	}

	if _, err := tx.Exec(`
        INSERT INTO chest_claims (chest_id, room_id, user_id, amount) VALUES ($1, $2, $3, $4)`,
		update.ChestID, update.RoomID, update.UserID, update.Awarded); err != nil {
		return err
	}

	if update.Terminal {
		if _, err := tx.Exec(
			`UPDATE rooms SET active_chest_id = NULL, updated_at = CURRENT_TIMESTAMP
             WHERE room_id = $1 AND active_chest_id = $2`,
			update.RoomID, update.ChestID); err != nil {
			return err
		}
	}

	return tx.Commit()
}

// --- 消息与成员 ---

func (p *PostgreSQL) AppendMessage(msg *models.Message) error {
	_, err := p.db.Exec(`
        INSERT INTO messages (room_id, sender_id, sender_name, kind, body) VALUES ($1, $2, $3, $4, $5)`,
		msg.RoomID, msg.SenderID, msg.SenderName, msg.Kind, msg.Body)
	return err
}

func (p *PostgreSQL) RecentMessages(roomID string, limit int) ([]models.Message, error) {
	rows, err := p.db.Query(`
        SELECT room_id, sender_id, sender_name, kind, body, created_at
        FROM messages WHERE room_id = $1 ORDER BY id DESC LIMIT $2`, roomID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var msgs []models.Message
	for rows.Next() {
		var m models.Message
		if err := rows.Scan(&m.RoomID, &m.SenderID, &m.SenderName, &m.Kind, &m.Body, &m.CreatedAt); err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	// 倒序取出，正序返回
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}

func (p *PostgreSQL) AddParticipant(roomID string, userID int64, userName string) error {
	_, err := p.db.Exec(`
        INSERT INTO participants (room_id, user_id, user_name) VALUES ($1, $2, $3)
        ON CONFLICT (room_id, user_id) DO NOTHING`,
		roomID, userID, userName)
	return err
}

func (p *PostgreSQL) RemoveParticipant(roomID string, userID int64) error {
	_, err := p.db.Exec(`DELETE FROM participants WHERE room_id = $1 AND user_id = $2`, roomID, userID)
	return err
}

func (p *PostgreSQL) SetVoicePresence(roomID string, userID int64, present bool) error {
	if !present {
		_, err := p.db.Exec(`DELETE FROM voice_presences WHERE room_id = $1 AND user_id = $2`, roomID, userID)
		return err
	}
	_, err := p.db.Exec(`
        INSERT INTO voice_presences (room_id, user_id) VALUES ($1, $2)
        ON CONFLICT (room_id, user_id) DO NOTHING`,
		roomID, userID)
	return err
}

// --- 级联删除 ---

func (p *PostgreSQL) DeleteRoomCascade(roomID string, batchSize int) (int64, error) {
	if batchSize <= 0 {
		batchSize = 500
	}
	var deleted int64
	for _, table := range cascadeTables {
		for {
			result, err := p.db.Exec(fmt.Sprintf(
				`DELETE FROM %s WHERE ctid IN (SELECT ctid FROM %s WHERE room_id = $1 LIMIT $2)`,
				table, table), roomID, batchSize)
			if err != nil {
				return deleted, &PartialCascadeError{RoomID: roomID, Deleted: deleted, Cause: err}
			}
			affected, err := result.RowsAffected()
			if err != nil {
				return deleted, &PartialCascadeError{RoomID: roomID, Deleted: deleted, Cause: err}
			}
			deleted += affected
			if affected < int64(batchSize) {
				break
			}
		}
	}

	result, err := p.db.Exec(`DELETE FROM rooms WHERE room_id = $1`, roomID)
	if err != nil {
		return deleted, &PartialCascadeError{RoomID: roomID, Deleted: deleted, Cause: err}
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return deleted, &PartialCascadeError{RoomID: roomID, Deleted: deleted, Cause: err}
	}
	deleted += affected
	return deleted, nil
}

// Close 关闭数据库连接
func (p *PostgreSQL) Close() error {
	return p.db.Close()
}
