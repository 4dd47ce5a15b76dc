package subjects

import "database/sql"

// Subject is one entry of the study catalog the client's pickers are
// populated from. Generation itself accepts free text; the catalog is
// guidance, not a constraint.
type Subject struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository { return &Repository{db: db} }

func (r *Repository) All() ([]Subject, error) {
	rows, err := r.db.Query(`SELECT id, name, description FROM subjects ORDER BY name ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	list := make([]Subject, 0)
	for rows.Next() {
		var s Subject
		if err := rows.Scan(&s.ID, &s.Name, &s.Description); err != nil {
			return nil, err
		}
		list = append(list, s)
	}
	return list, rows.Err()
}
