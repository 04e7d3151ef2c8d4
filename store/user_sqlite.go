package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	"github.com/mattn/go-sqlite3"

	"github.com/teamboard/relay/auth"
)

type UserStore interface {
	CreateUser(ctx context.Context, userName, name, password string) (User, error)
	GetUserByUserName(ctx context.Context, userName string) (*User, error)
	GetUserByID(ctx context.Context, id string) (*User, error)
	ComparePassword(ctx context.Context, userName, password string) (*User, bool, error)
}

type SQLiteUserStore struct {
	db *sql.DB
}

func NewSQLiteUserStore(db *sql.DB) *SQLiteUserStore {
	return &SQLiteUserStore{db: db}
}

func (s *SQLiteUserStore) CreateUser(ctx context.Context, userName, name, password string) (User, error) {
	hash, err := auth.HashPassword(password)
	if err != nil {
		return User{}, fmt.Errorf("hash password: %w", err)
	}

	user := User{ID: uuid.New().String(), UserName: userName, Name: name, Password: hash}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO users (id, username, name, password) VALUES (@id, @username, @name, @password)`,
		sql.Named("id", user.ID), sql.Named("username", user.UserName),
		sql.Named("name", user.Name), sql.Named("password", user.Password))
	if err != nil {
		var sqliteErr sqlite3.Error
		if casted, ok := err.(sqlite3.Error); ok {
			sqliteErr = casted
			if sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique {
				return User{}, ErrDuplicateUser
			}
		}
		return User{}, fmt.Errorf("ExecContext(insert users): %w", err)
	}
	return user, nil
}

func (s *SQLiteUserStore) GetUserByUserName(ctx context.Context, userName string) (*User, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, username, name, password FROM users WHERE username = @username`,
		sql.Named("username", userName))
	return scanUser(row)
}

func (s *SQLiteUserStore) GetUserByID(ctx context.Context, id string) (*User, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, username, name, password FROM users WHERE id = @id`,
		sql.Named("id", id))
	return scanUser(row)
}

func scanUser(row *sql.Row) (*User, error) {
	var user User
	if err := row.Scan(&user.ID, &user.UserName, &user.Name, &user.Password); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("row.Scan: %w", err)
	}
	return &user, nil
}

func (s *SQLiteUserStore) ComparePassword(ctx context.Context, userName, password string) (*User, bool, error) {
	user, err := s.GetUserByUserName(ctx, userName)
	if err != nil {
		return nil, false, err
	}
	if user == nil {
		return nil, false, nil
	}
	return user, auth.ComparePassword(user.Password, password), nil
}
