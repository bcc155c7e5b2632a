package storage

import (
	"context"
	"fmt"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS medicines (
		id         VARCHAR(16)  NOT NULL PRIMARY KEY,
		name       VARCHAR(255) CHARACTER SET utf8mb4 COLLATE utf8mb4_bin NOT NULL,
		stock      INT          NOT NULL DEFAULT 0,
		price      INT          NOT NULL,
		created_at DATETIME(6)  NOT NULL,
		deleted_at DATETIME(6)  NULL,
		INDEX idx_medicines_name (name, deleted_at),
		CONSTRAINT chk_medicines_stock CHECK (stock >= 0),
		CONSTRAINT chk_medicines_price CHECK (price >= 0)
	)`,
	`CREATE TABLE IF NOT EXISTS prescriptions (
		id          VARCHAR(16) NOT NULL PRIMARY KEY,
		patient_id  CHAR(36)    NOT NULL,
		status      VARCHAR(16) NOT NULL,
		total_price INT         NOT NULL DEFAULT 0,
		created_at  DATETIME(6) NOT NULL,
		deleted_at  DATETIME(6) NULL,
		INDEX idx_prescriptions_patient (patient_id, deleted_at),
		INDEX idx_prescriptions_deleted (deleted_at)
	)`,
	`CREATE TABLE IF NOT EXISTS prescription_medicines (
		id              CHAR(36)    NOT NULL PRIMARY KEY,
		prescription_id VARCHAR(16) NOT NULL,
		medicine_id     VARCHAR(16) NOT NULL,
		needed_qty      INT         NOT NULL,
		fulfilled_qty   INT         NOT NULL DEFAULT 0,
		UNIQUE KEY uq_prescription_medicine (prescription_id, medicine_id),
		CONSTRAINT fk_pm_prescription FOREIGN KEY (prescription_id) REFERENCES prescriptions (id),
		CONSTRAINT fk_pm_medicine FOREIGN KEY (medicine_id) REFERENCES medicines (id),
		CONSTRAINT chk_pm_needed CHECK (needed_qty >= 1),
		CONSTRAINT chk_pm_fulfilled CHECK (fulfilled_qty >= 0 AND fulfilled_qty <= needed_qty)
	)`,
	`CREATE TABLE IF NOT EXISTS payments (
		id              CHAR(36)    NOT NULL PRIMARY KEY,
		prescription_id VARCHAR(16) NOT NULL,
		total_price     INT         NOT NULL,
		user_id         CHAR(36)    NOT NULL,
		created_at      DATETIME(6) NOT NULL,
		UNIQUE KEY uq_payments_prescription (prescription_id),
		CONSTRAINT fk_payments_prescription FOREIGN KEY (prescription_id) REFERENCES prescriptions (id)
	)`,
	`CREATE TABLE IF NOT EXISTS id_sequences (
		name       VARCHAR(32) NOT NULL PRIMARY KEY,
		last_value INT         NOT NULL DEFAULT 0
	)`,
	// Tables created before names were made case-sensitive keep the server
	// default collation until converted.
	`ALTER TABLE medicines MODIFY name VARCHAR(255) CHARACTER SET utf8mb4 COLLATE utf8mb4_bin NOT NULL`,
	`INSERT IGNORE INTO id_sequences (name, last_value) VALUES ('medicine', 0), ('prescription', 0)`,
}

// Migrate creates any missing tables. It is safe to run repeatedly.
func (m *MySQLAdapter) Migrate(ctx context.Context) error {
	for i, stmt := range schema {
		if _, err := m.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate step %d: %w", i+1, err)
		}
	}
	return nil
}
