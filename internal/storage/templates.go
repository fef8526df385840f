package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/sungwon/guest-messenger/internal/templates"
)

const templateColumns = `template_name, template_type, subject, body_text, variables, active, updated_at`

// TemplateRepo implements templates.Store on PostgreSQL.
type TemplateRepo struct {
	pool *pgxpool.Pool
}

// NewTemplateRepo creates a TemplateRepo.
func NewTemplateRepo(pool *pgxpool.Pool) *TemplateRepo {
	return &TemplateRepo{pool: pool}
}

func (r *TemplateRepo) List(ctx context.Context, typ templates.MessageType) ([]templates.Template, error) {
	rows, err := r.pool.Query(ctx, `
SELECT `+templateColumns+`
FROM communication_templates
WHERE active AND ($1 = '' OR template_type = $1)
ORDER BY template_name`, string(typ))
	if err != nil {
		return nil, fmt.Errorf("query templates: %w", err)
	}
	defer rows.Close()

	var out []templates.Template
	for rows.Next() {
		t, err := scanTemplate(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate templates: %w", err)
	}
	return out, nil
}

func (r *TemplateRepo) ForType(ctx context.Context, typ templates.MessageType) (*templates.Template, error) {
	row := r.pool.QueryRow(ctx, `
SELECT `+templateColumns+`
FROM communication_templates
WHERE active AND template_type = $1
ORDER BY template_name
LIMIT 1`, string(typ))

	t, err := scanTemplate(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("template for type %s: %w", typ, templates.ErrNotFound)
		}
		return nil, err
	}
	return &t, nil
}

func (r *TemplateRepo) Upsert(ctx context.Context, t templates.Template) error {
	vars, err := json.Marshal(nonNil(t.Variables))
	if err != nil {
		return fmt.Errorf("marshal variables: %w", err)
	}

	_, err = r.pool.Exec(ctx, `
INSERT INTO communication_templates (`+templateColumns+`)
VALUES ($1, $2, $3, $4, $5, $6, COALESCE($7, now()))
ON CONFLICT (template_name) DO UPDATE SET
    template_type = EXCLUDED.template_type,
    subject       = EXCLUDED.subject,
    body_text     = EXCLUDED.body_text,
    variables     = EXCLUDED.variables,
    active        = EXCLUDED.active,
    updated_at    = EXCLUDED.updated_at`,
		t.Name, string(t.Type), t.Subject, t.Body, vars, t.Active, nullTime(t.UpdatedAt))
	if err != nil {
		return fmt.Errorf("upsert template %s: %w", t.Name, err)
	}
	return nil
}

func (r *TemplateRepo) InsertIfAbsent(ctx context.Context, t templates.Template) (bool, error) {
	vars, err := json.Marshal(nonNil(t.Variables))
	if err != nil {
		return false, fmt.Errorf("marshal variables: %w", err)
	}

	tag, err := r.pool.Exec(ctx, `
INSERT INTO communication_templates (`+templateColumns+`)
VALUES ($1, $2, $3, $4, $5, $6, COALESCE($7, now()))
ON CONFLICT (template_name) DO NOTHING`,
		t.Name, string(t.Type), t.Subject, t.Body, vars, t.Active, nullTime(t.UpdatedAt))
	if err != nil {
		return false, fmt.Errorf("insert template %s: %w", t.Name, err)
	}
	return tag.RowsAffected() == 1, nil
}

func scanTemplate(row pgx.Row) (templates.Template, error) {
	var (
		t    templates.Template
		typ  string
		vars []byte
	)
	if err := row.Scan(&t.Name, &typ, &t.Subject, &t.Body, &vars, &t.Active, &t.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return t, err
		}
		return t, fmt.Errorf("scan template: %w", err)
	}
	t.Type = templates.MessageType(typ)
	if err := json.Unmarshal(vars, &t.Variables); err != nil {
		return t, fmt.Errorf("decode variables of %s: %w", t.Name, err)
	}
	return t, nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
