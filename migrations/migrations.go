package migrations

import (
	"database/sql"
	"fmt"
	"log"
	"time"

	"golang.org/x/crypto/bcrypt"
)

// User is a registered account holder. PasswordHash is a bcrypt hash; the
// plain password never touches the database.
type User struct {
	ID           int64     `db:"id"`
	FirstName    string    `db:"first_name"`
	LastName     string    `db:"last_name"`
	Email        string    `db:"email"`
	PasswordHash string    `db:"password_hash"`
	CreatedAt    time.Time `db:"created_at"`
	UpdatedAt    time.Time `db:"updated_at"`
}

var db *sql.DB

// Init sets the DB connection for migrations and user queries.
func Init(database *sql.DB) {
	db = database
}

// Migrate creates required tables if they do not exist. The credit tables
// must match the columns the ledger repository reads and writes.
func Migrate() error {
	if db == nil {
		return fmt.Errorf("db is not initialized")
	}
	createUsers := `
	CREATE TABLE IF NOT EXISTS users (
		id BIGINT AUTO_INCREMENT PRIMARY KEY,
		first_name VARCHAR(100) NOT NULL,
		last_name VARCHAR(100) NOT NULL,
		email VARCHAR(191) NOT NULL UNIQUE,
		password_hash VARCHAR(191) NOT NULL,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP ON UPDATE CURRENT_TIMESTAMP
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4;`
	if _, err := db.Exec(createUsers); err != nil {
		return err
	}

	createAccounts := `
	CREATE TABLE IF NOT EXISTS credit_accounts (
		id BIGINT AUTO_INCREMENT PRIMARY KEY,
		identifier VARCHAR(191) NOT NULL UNIQUE,
		balance INT NOT NULL DEFAULT 0,
		plan_tier VARCHAR(20) NOT NULL DEFAULT 'free',
		monthly_allotment INT NOT NULL DEFAULT 0,
		expires_at DATETIME NULL
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4;`
	if _, err := db.Exec(createAccounts); err != nil {
		return err
	}

	// ref is UNIQUE so a replayed billing event cannot append twice; MySQL
	// permits any number of NULLs in a unique column, so usage entries
	// (which carry no ref) are unaffected.
	createTransactions := `
	CREATE TABLE IF NOT EXISTS credit_transactions (
		id BIGINT AUTO_INCREMENT PRIMARY KEY,
		account_id BIGINT NOT NULL,
		type VARCHAR(32) NOT NULL,
		delta INT NOT NULL,
		balance_after INT NOT NULL,
		feature VARCHAR(64) NOT NULL DEFAULT '',
		description VARCHAR(255) NOT NULL DEFAULT '',
		ref VARCHAR(191) NULL,
		created_at DATETIME NOT NULL,
		UNIQUE KEY uniq_tx_ref (ref),
		KEY idx_tx_account (account_id),
		FOREIGN KEY (account_id) REFERENCES credit_accounts(id) ON DELETE CASCADE
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4;`
	if _, err := db.Exec(createTransactions); err != nil {
		return err
	}

	createSubjects := `
	CREATE TABLE IF NOT EXISTS subjects (
		id BIGINT AUTO_INCREMENT PRIMARY KEY,
		name VARCHAR(100) NOT NULL UNIQUE,
		description VARCHAR(255) NOT NULL DEFAULT ''
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4;`
	if _, err := db.Exec(createSubjects); err != nil {
		return err
	}

	// Additive upgrade for installs that predate plan expiry tracking.
	_, _ = db.Exec("ALTER TABLE credit_accounts ADD COLUMN IF NOT EXISTS expires_at DATETIME NULL")

	return nil
}

// SeedDefaultSubjects fills the study catalog on first boot.
func SeedDefaultSubjects() error {
	if db == nil {
		return fmt.Errorf("db is not initialized")
	}
	var count int
	if err := db.QueryRow("SELECT COUNT(1) FROM subjects").Scan(&count); err != nil {
		return err
	}
	if count > 0 {
		return nil
	}
	seed := [][2]string{
		{"Indian Polity", "Constitution, governance and the political system"},
		{"Modern Indian History", "From the eighteenth century to independence"},
		{"Ancient & Medieval History", "Early India through the sultanates and Mughals"},
		{"Art & Culture", "Architecture, literature, performing arts"},
		{"Geography", "Indian and world physical, social and economic geography"},
		{"Indian Economy", "Growth, development, budgeting and inclusion"},
		{"Environment & Ecology", "Biodiversity, climate change, conservation"},
		{"Science & Technology", "Developments and their applications in everyday life"},
		{"Current Affairs", "Events of national and international importance"},
		{"Ethics, Integrity & Aptitude", "Case studies and thinkers"},
	}
	for _, s := range seed {
		if _, err := db.Exec("INSERT INTO subjects (name, description) VALUES (?, ?)", s[0], s[1]); err != nil {
			return err
		}
	}
	log.Printf("[migrations][seed] subjects=%d created", len(seed))
	return nil
}

// SeedDefaultUser inserts a development login if it doesn't exist.
func SeedDefaultUser() error {
	if db == nil {
		return fmt.Errorf("db is not initialized")
	}
	const email = "dev@example.com"
	var count int
	if err := db.QueryRow("SELECT COUNT(1) FROM users WHERE email = ?", email).Scan(&count); err != nil {
		return err
	}
	if count > 0 {
		return nil
	}
	hash, err := bcrypt.GenerateFromPassword([]byte("devpassword"), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	if _, err := CreateUser("Dev", "User", email, string(hash)); err != nil {
		return err
	}
	log.Printf("[migrations][seed] user=%s created", email)
	return nil
}

// GetUserByEmail retrieves a user from DB by email.
func GetUserByEmail(email string) *User {
	if db == nil {
		return nil
	}
	row := db.QueryRow("SELECT id, first_name, last_name, email, password_hash, created_at, updated_at FROM users WHERE email = ? LIMIT 1", email)
	var u User
	if err := row.Scan(&u.ID, &u.FirstName, &u.LastName, &u.Email, &u.PasswordHash, &u.CreatedAt, &u.UpdatedAt); err != nil {
		return nil
	}
	return &u
}

// GetUserByID retrieves a user by its ID.
func GetUserByID(id int64) *User {
	if db == nil {
		return nil
	}
	row := db.QueryRow("SELECT id, first_name, last_name, email, password_hash, created_at, updated_at FROM users WHERE id = ? LIMIT 1", id)
	var u User
	if err := row.Scan(&u.ID, &u.FirstName, &u.LastName, &u.Email, &u.PasswordHash, &u.CreatedAt, &u.UpdatedAt); err != nil {
		return nil
	}
	return &u
}

// CreateUser inserts a new user record and returns its id. password must
// already be a bcrypt hash.
func CreateUser(firstName, lastName, email, passwordHash string) (int64, error) {
	if db == nil {
		return 0, fmt.Errorf("db is not initialized")
	}
	res, err := db.Exec(
		"INSERT INTO users (first_name, last_name, email, password_hash) VALUES (?, ?, ?, ?)",
		firstName, lastName, email, passwordHash,
	)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// EmailExists checks if a user with the given email exists.
func EmailExists(email string) (bool, error) {
	if db == nil {
		return false, fmt.Errorf("db is not initialized")
	}
	var count int
	if err := db.QueryRow("SELECT COUNT(1) FROM users WHERE email = ?", email).Scan(&count); err != nil {
		return false, err
	}
	return count > 0, nil
}

// UpdateUserPassword replaces the stored hash for the given user id.
func UpdateUserPassword(id int64, passwordHash string) error {
	if db == nil {
		return fmt.Errorf("db is not initialized")
	}
	_, err := db.Exec("UPDATE users SET password_hash = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?", passwordHash, id)
	return err
}
