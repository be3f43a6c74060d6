package database

import (
	"database/sql"
	"fmt"
	"os"

	_ "github.com/lib/pq"
	"go.uber.org/zap"
)

func InitDB(logger *zap.Logger) (*sql.DB, error) {
	host := getEnv("DB_HOST", "localhost")
	port := getEnv("DB_PORT", "5432")
	user := getEnv("DB_USER", "postgres")
	password := getEnv("DB_PASSWORD", "postgres")
	dbname := getEnv("DB_NAME", "fulfillmentdb")

	psqlInfo := fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=disable",
		host, port, user, password, dbname)

	db, err := sql.Open("postgres", psqlInfo)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	logger.Info("Database connection established")
	return db, nil
}

const schema = `
CREATE TABLE IF NOT EXISTS orders (
	id SERIAL PRIMARY KEY,
	user_id INTEGER NOT NULL,
	product_id INTEGER NOT NULL,
	quantity INTEGER NOT NULL,
	total_amount DECIMAL(10, 2) NOT NULL,
	status VARCHAR(50) NOT NULL DEFAULT 'pending',
	recipient_name VARCHAR(255) NOT NULL DEFAULT '',
	recipient_phone VARCHAR(50) NOT NULL DEFAULT '',
	recipient_email VARCHAR(255) NOT NULL DEFAULT '',
	shipping_address TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
	updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS payments (
	id SERIAL PRIMARY KEY,
	order_id INTEGER NOT NULL UNIQUE,
	amount DECIMAL(10, 2) NOT NULL,
	status VARCHAR(50) NOT NULL DEFAULT 'pending',
	gateway_ref VARCHAR(255) NOT NULL DEFAULT '',
	billing_code VARCHAR(255) NOT NULL DEFAULT '',
	reference_number VARCHAR(255) NOT NULL DEFAULT '',
	expires_at TIMESTAMP,
	created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
	updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS refunds (
	id SERIAL PRIMARY KEY,
	payment_id INTEGER NOT NULL UNIQUE,
	transaction_id VARCHAR(255) NOT NULL DEFAULT '',
	amount DECIMAL(10, 2) NOT NULL,
	reason TEXT NOT NULL DEFAULT '',
	status VARCHAR(50) NOT NULL DEFAULT 'processing',
	created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
	updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS shipments (
	id SERIAL PRIMARY KEY,
	order_id INTEGER NOT NULL UNIQUE,
	external_id VARCHAR(255) NOT NULL,
	status VARCHAR(50) NOT NULL DEFAULT 'shipment_created',
	carrier VARCHAR(255) NOT NULL DEFAULT '',
	tracking_number VARCHAR(255) NOT NULL DEFAULT '',
	delivery_address TEXT NOT NULL DEFAULT '',
	estimated_delivery TIMESTAMP,
	actual_delivery TIMESTAMP,
	created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
	updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS products (
	id SERIAL PRIMARY KEY,
	name VARCHAR(255) NOT NULL,
	price DECIMAL(10, 2) NOT NULL
);

CREATE TABLE IF NOT EXISTS warehouses (
	id SERIAL PRIMARY KEY,
	name VARCHAR(255) NOT NULL,
	address TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS warehouse_stock (
	warehouse_id INTEGER NOT NULL,
	product_id INTEGER NOT NULL,
	available INTEGER NOT NULL,
	version INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (warehouse_id, product_id)
);

CREATE TABLE IF NOT EXISTS reservations (
	id SERIAL PRIMARY KEY,
	warehouse_id INTEGER NOT NULL,
	product_id INTEGER NOT NULL,
	order_id INTEGER NOT NULL,
	quantity INTEGER NOT NULL,
	status VARCHAR(50) NOT NULL DEFAULT 'reserved',
	created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
	updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS processed_events (
	event_key VARCHAR(255) PRIMARY KEY,
	kind VARCHAR(50) NOT NULL,
	processed_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);
`

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
