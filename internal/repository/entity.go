package repository

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// ErrUnknownEntity возвращается при обращении к неизвестному типу сущности.
var ErrUnknownEntity = errors.New("unknown entity")

// entityDescriptor описывает административно изменяемую сущность:
// таблицу и разрешённый набор полей. Имена колонок берутся только
// из дескриптора, никогда из запроса.
type entityDescriptor struct {
	table    string
	idColumn string
	// columns отображает имя поля запроса в имя колонки.
	columns map[string]string
}

var entityDescriptors = map[string]entityDescriptor{
	"books": {
		table:    "books",
		idColumn: "id",
		columns: map[string]string{
			"title":           "title",
			"author":          "author",
			"description":     "description",
			"price_cents":     "price_cents",
			"cover_image_url": "cover_image_url",
		},
	},
	"users": {
		table:    "users",
		idColumn: "id",
		columns: map[string]string{
			"username": "username",
			"email":    "email",
			"role":     "role",
		},
	},
	"orders": {
		table:    "orders",
		idColumn: "id",
		columns: map[string]string{
			"order_status": "status",
		},
	},
}

// allowedFields отбирает из запрошенных полей только разрешённые дескриптором.
// Неразрешённые поля молча отбрасываются. Порядок результата детерминирован.
func (d entityDescriptor) allowedFields(fields map[string]any) ([]string, []any) {
	names := make([]string, 0, len(fields))
	for name := range fields {
		if _, ok := d.columns[name]; ok {
			names = append(names, name)
		}
	}
	sort.Strings(names)

	values := make([]any, 0, len(names))
	for _, name := range names {
		values = append(values, fields[name])
	}
	return names, values
}

// entityExecutor покрывает операции БД, используемые административными мутациями.
type entityExecutor interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// UpdateEntity применяет к записи сущности только разрешённые поля.
func (r *PostgresRepository) UpdateEntity(ctx context.Context, entity string, id int64, fields map[string]any) error {
	return updateEntity(ctx, r.pool, entity, id, fields)
}

func updateEntity(ctx context.Context, db entityExecutor, entity string, id int64, fields map[string]any) error {
	desc, ok := entityDescriptors[entity]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownEntity, entity)
	}

	names, values := desc.allowedFields(fields)
	if len(names) == 0 {
		// Обновлять нечего, но запись должна существовать.
		var exists bool
		err := db.QueryRow(ctx,
			fmt.Sprintf("SELECT EXISTS (SELECT 1 FROM %s WHERE %s = $1)", desc.table, desc.idColumn),
			id,
		).Scan(&exists)
		if err != nil {
			return fmt.Errorf("check %s: %w", entity, err)
		}
		if !exists {
			return fmt.Errorf("%w: %s %d", ErrEntityNotFound, entity, id)
		}
		return nil
	}

	assignments := make([]string, 0, len(names))
	for i, name := range names {
		assignments = append(assignments, fmt.Sprintf("%s = $%d", desc.columns[name], i+1))
	}

	query := fmt.Sprintf(
		"UPDATE %s SET %s WHERE %s = $%d",
		desc.table, strings.Join(assignments, ", "), desc.idColumn, len(names)+1,
	)
	args := append(values, id)

	tag, err := db.Exec(ctx, query, args...)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return fmt.Errorf("%w: %s", ErrConstraintViolation, pgErr.ConstraintName)
		}
		return fmt.Errorf("update %s: %w", entity, err)
	}

	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s %d", ErrEntityNotFound, entity, id)
	}

	return nil
}

// DeleteEntity удаляет запись сущности по идентификатору.
func (r *PostgresRepository) DeleteEntity(ctx context.Context, entity string, id int64) error {
	return deleteEntity(ctx, r.pool, entity, id)
}

func deleteEntity(ctx context.Context, db entityExecutor, entity string, id int64) error {
	desc, ok := entityDescriptors[entity]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownEntity, entity)
	}

	query := fmt.Sprintf("DELETE FROM %s WHERE %s = $1", desc.table, desc.idColumn)

	tag, err := db.Exec(ctx, query, id)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.ForeignKeyViolation {
			return fmt.Errorf("%w: %s", ErrConstraintViolation, pgErr.ConstraintName)
		}
		return fmt.Errorf("delete %s: %w", entity, err)
	}

	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s %d", ErrEntityNotFound, entity, id)
	}

	return nil
}
