package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"

	"github.com/rl1809/pharmacy/internal/core/domain"
	"github.com/rl1809/pharmacy/internal/port"
)

var ErrOptimisticLock = errors.New("optimistic lock conflict")

const (
	mysqlDuplicateEntry  = 1062
	mysqlLockWaitTimeout = 1205
	mysqlDeadlock        = 1213
	mysqlOutOfRange      = 1264
)

var sequenceTables = map[string]string{
	domain.MedicineSequence.Name:     "medicines",
	domain.PrescriptionSequence.Name: "prescriptions",
}

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type MySQLAdapter struct {
	db *sql.DB
}

func NewMySQLAdapter(db *sql.DB) *MySQLAdapter {
	return &MySQLAdapter{db: db}
}

func (m *MySQLAdapter) WithTx(ctx context.Context, fn func(ctx context.Context, tx port.Tx) error) error {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if err := fn(ctx, &mysqlTx{tx: tx}); err != nil {
		return mapMySQLError(err)
	}

	if err := tx.Commit(); err != nil {
		return mapMySQLError(fmt.Errorf("commit: %w", err))
	}
	return nil
}

func (m *MySQLAdapter) ListMedicines(ctx context.Context) ([]domain.Medicine, error) {
	rows, err := m.db.QueryContext(ctx, `
		SELECT id, name, stock, price, created_at, deleted_at
		FROM medicines WHERE deleted_at IS NULL ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("query medicines: %w", err)
	}
	defer rows.Close()

	var out []domain.Medicine
	for rows.Next() {
		med, err := scanMedicine(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, med)
	}
	return out, rows.Err()
}

func (m *MySQLAdapter) GetMedicine(ctx context.Context, id string) (*domain.Medicine, error) {
	row := m.db.QueryRowContext(ctx, `
		SELECT id, name, stock, price, created_at, deleted_at
		FROM medicines WHERE id = ? AND deleted_at IS NULL`, id)

	med, err := scanMedicine(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &med, nil
}

func (m *MySQLAdapter) ListPrescriptions(ctx context.Context, filter port.PrescriptionFilter) ([]domain.Prescription, error) {
	query := `
		SELECT id, patient_id, status, total_price, created_at, deleted_at
		FROM prescriptions WHERE deleted_at IS NULL`
	var args []any
	if filter.PatientID != "" {
		query += ` AND patient_id = ?`
		args = append(args, filter.PatientID)
	}
	query += ` ORDER BY id`

	rows, err := m.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query prescriptions: %w", err)
	}

	var out []domain.Prescription
	for rows.Next() {
		p, err := scanPrescription(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		out = append(out, p)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate prescriptions: %w", err)
	}

	ids := make([]string, len(out))
	for i := range out {
		ids[i] = out[i].ID
	}
	lines, err := loadLines(ctx, m.db, ids)
	if err != nil {
		return nil, err
	}
	for i := range out {
		out[i].Lines = lines[out[i].ID]
	}
	return out, nil
}

func (m *MySQLAdapter) GetPrescription(ctx context.Context, id string) (*domain.Prescription, error) {
	return getPrescription(ctx, m.db, id, false)
}

type mysqlTx struct {
	tx *sql.Tx
}

func (t *mysqlTx) NextID(ctx context.Context, seq domain.Sequence) (string, error) {
	table, ok := sequenceTables[seq.Name]
	if !ok {
		return "", fmt.Errorf("unknown sequence %q", seq.Name)
	}

	var last int
	err := t.tx.QueryRowContext(ctx, `
		SELECT last_value FROM id_sequences WHERE name = ? FOR UPDATE`, seq.Name,
	).Scan(&last)
	if errors.Is(err, sql.ErrNoRows) {
		if _, err := t.tx.ExecContext(ctx, `
			INSERT IGNORE INTO id_sequences (name, last_value) VALUES (?, 0)`, seq.Name); err != nil {
			return "", fmt.Errorf("seed sequence: %w", err)
		}
		err = t.tx.QueryRowContext(ctx, `
			SELECT last_value FROM id_sequences WHERE name = ? FOR UPDATE`, seq.Name,
		).Scan(&last)
	}
	if err != nil {
		return "", fmt.Errorf("lock sequence: %w", err)
	}

	// IDs of soft-deleted rows count too, so a number is never handed out twice.
	rows, err := t.tx.QueryContext(ctx, `SELECT id FROM `+table+` WHERE id LIKE ?`, seq.Prefix+"%")
	if err != nil {
		return "", fmt.Errorf("scan %s ids: %w", table, err)
	}
	defer rows.Close()

	highest := last
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return "", fmt.Errorf("scan id: %w", err)
		}
		if n, ok := seq.Parse(id); ok && n > highest {
			highest = n
		}
	}
	if err := rows.Err(); err != nil {
		return "", fmt.Errorf("iterate ids: %w", err)
	}

	if _, err := t.tx.ExecContext(ctx, `
		UPDATE id_sequences SET last_value = ? WHERE name = ?`, highest+1, seq.Name); err != nil {
		return "", fmt.Errorf("advance sequence: %w", err)
	}
	return seq.Next(highest), nil
}

func (t *mysqlTx) MedicineNameTaken(ctx context.Context, name string) (bool, error) {
	var count int
	err := t.tx.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM medicines WHERE name = ? AND deleted_at IS NULL`, name,
	).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("query medicine name: %w", err)
	}
	return count > 0, nil
}

func (t *mysqlTx) InsertMedicine(ctx context.Context, med domain.Medicine) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO medicines (id, name, stock, price, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		med.ID, med.Name, med.Stock, med.Price, med.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("insert medicine: %w", err)
	}
	return nil
}

func (t *mysqlTx) LockMedicines(ctx context.Context, ids []string) (map[string]*domain.Medicine, error) {
	out := make(map[string]*domain.Medicine, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	sorted := slices.Clone(ids)
	slices.Sort(sorted)
	sorted = slices.Compact(sorted)

	rows, err := t.tx.QueryContext(ctx, `
		SELECT id, name, stock, price, created_at, deleted_at
		FROM medicines WHERE id IN (`+placeholders(len(sorted))+`)
		ORDER BY id FOR UPDATE`, toArgs(sorted)...)
	if err != nil {
		return nil, fmt.Errorf("lock medicines: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		med, err := scanMedicine(rows)
		if err != nil {
			return nil, err
		}
		out[med.ID] = &med
	}
	return out, rows.Err()
}

func (t *mysqlTx) AdjustStock(ctx context.Context, id string, delta int) error {
	if delta == 0 {
		return nil
	}

	result, err := t.tx.ExecContext(ctx, `
		UPDATE medicines SET stock = stock + ?
		WHERE id = ? AND stock + ? >= 0`,
		delta, id, delta,
	)
	if err != nil {
		return fmt.Errorf("update stock: %w", err)
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return fmt.Errorf("adjust stock %s by %d: %w", id, delta, domain.ErrInsufficientStock)
	}
	return nil
}

func (t *mysqlTx) SoftDeleteMedicine(ctx context.Context, id string, at time.Time) error {
	result, err := t.tx.ExecContext(ctx, `
		UPDATE medicines SET deleted_at = ? WHERE id = ? AND deleted_at IS NULL`,
		at.UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("delete medicine: %w", err)
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return ErrOptimisticLock
	}
	return nil
}

func (t *mysqlTx) LockPrescription(ctx context.Context, id string) (*domain.Prescription, error) {
	return getPrescription(ctx, t.tx, id, true)
}

func (t *mysqlTx) InsertPrescription(ctx context.Context, p domain.Prescription) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO prescriptions (id, patient_id, status, total_price, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		p.ID, p.PatientID, p.Status, p.TotalPrice, p.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("insert prescription: %w", err)
	}
	return t.insertLines(ctx, p.Lines)
}

func (t *mysqlTx) ReplaceLineItems(ctx context.Context, p domain.Prescription) error {
	if _, err := t.tx.ExecContext(ctx, `
		DELETE FROM prescription_medicines WHERE prescription_id = ?`, p.ID); err != nil {
		return fmt.Errorf("delete line items: %w", err)
	}
	if err := t.insertLines(ctx, p.Lines); err != nil {
		return err
	}
	if _, err := t.tx.ExecContext(ctx, `
		UPDATE prescriptions SET total_price = ? WHERE id = ?`, p.TotalPrice, p.ID); err != nil {
		return fmt.Errorf("update total price: %w", err)
	}
	return nil
}

func (t *mysqlTx) SavePrescription(ctx context.Context, p domain.Prescription) error {
	var deletedAt any
	if p.DeletedAt != nil {
		deletedAt = p.DeletedAt.UTC()
	}

	_, err := t.tx.ExecContext(ctx, `
		UPDATE prescriptions SET status = ?, total_price = ?, deleted_at = ?
		WHERE id = ?`,
		p.Status, p.TotalPrice, deletedAt, p.ID,
	)
	if err != nil {
		return fmt.Errorf("update prescription: %w", err)
	}

	for _, l := range p.Lines {
		if _, err := t.tx.ExecContext(ctx, `
			UPDATE prescription_medicines SET fulfilled_qty = ? WHERE id = ?`,
			l.FulfilledQty, l.ID); err != nil {
			return fmt.Errorf("update line item %s: %w", l.ID, err)
		}
	}
	return nil
}

func (t *mysqlTx) InsertPayment(ctx context.Context, pay domain.Payment) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO payments (id, prescription_id, total_price, user_id, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		pay.ID, pay.PrescriptionID, pay.TotalPrice, pay.UserID, pay.CreatedAt.UTC(),
	)
	if isMySQLError(err, mysqlDuplicateEntry) {
		return domain.ConflictError("Prescription has already been paid")
	}
	if err != nil {
		return fmt.Errorf("insert payment: %w", err)
	}
	return nil
}

func (t *mysqlTx) insertLines(ctx context.Context, lines []domain.LineItem) error {
	for _, l := range lines {
		_, err := t.tx.ExecContext(ctx, `
			INSERT INTO prescription_medicines (id, prescription_id, medicine_id, needed_qty, fulfilled_qty)
			VALUES (?, ?, ?, ?, ?)`,
			l.ID, l.PrescriptionID, l.MedicineID, l.NeededQty, l.FulfilledQty,
		)
		if err != nil {
			return fmt.Errorf("insert line item: %w", err)
		}
	}
	return nil
}

func getPrescription(ctx context.Context, q querier, id string, lock bool) (*domain.Prescription, error) {
	query := `
		SELECT id, patient_id, status, total_price, created_at, deleted_at
		FROM prescriptions WHERE id = ? AND deleted_at IS NULL`
	if lock {
		query += ` FOR UPDATE`
	}

	p, err := scanPrescription(q.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	lines, err := loadLines(ctx, q, []string{p.ID})
	if err != nil {
		return nil, err
	}
	p.Lines = lines[p.ID]
	return &p, nil
}

func loadLines(ctx context.Context, q querier, prescriptionIDs []string) (map[string][]domain.LineItem, error) {
	out := make(map[string][]domain.LineItem, len(prescriptionIDs))
	if len(prescriptionIDs) == 0 {
		return out, nil
	}

	rows, err := q.QueryContext(ctx, `
		SELECT pm.id, pm.prescription_id, pm.medicine_id, m.name, pm.needed_qty, pm.fulfilled_qty
		FROM prescription_medicines pm
		JOIN medicines m ON m.id = pm.medicine_id
		WHERE pm.prescription_id IN (`+placeholders(len(prescriptionIDs))+`)
		ORDER BY pm.prescription_id, pm.medicine_id`, toArgs(prescriptionIDs)...)
	if err != nil {
		return nil, fmt.Errorf("query line items: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var l domain.LineItem
		if err := rows.Scan(&l.ID, &l.PrescriptionID, &l.MedicineID, &l.MedicineName, &l.NeededQty, &l.FulfilledQty); err != nil {
			return nil, fmt.Errorf("scan line item: %w", err)
		}
		out[l.PrescriptionID] = append(out[l.PrescriptionID], l)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanMedicine(s scanner) (domain.Medicine, error) {
	var (
		med       domain.Medicine
		deletedAt sql.NullTime
	)
	err := s.Scan(&med.ID, &med.Name, &med.Stock, &med.Price, &med.CreatedAt, &deletedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return med, err
	}
	if err != nil {
		return med, fmt.Errorf("scan medicine: %w", err)
	}
	if deletedAt.Valid {
		med.DeletedAt = &deletedAt.Time
	}
	return med, nil
}

func scanPrescription(s scanner) (domain.Prescription, error) {
	var (
		p         domain.Prescription
		deletedAt sql.NullTime
	)
	err := s.Scan(&p.ID, &p.PatientID, &p.Status, &p.TotalPrice, &p.CreatedAt, &deletedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return p, err
	}
	if err != nil {
		return p, fmt.Errorf("scan prescription: %w", err)
	}
	if deletedAt.Valid {
		p.DeletedAt = &deletedAt.Time
	}
	return p, nil
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func toArgs(ids []string) []any {
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	return args
}

func isMySQLError(err error, number uint16) bool {
	var myErr *mysql.MySQLError
	return errors.As(err, &myErr) && myErr.Number == number
}

// mapMySQLError turns constraint and locking failures into domain errors.
// Everything else passes through untouched.
func mapMySQLError(err error) error {
	switch {
	case isMySQLError(err, mysqlDuplicateEntry):
		return &domain.Error{Kind: domain.KindConflict, Message: "Resource already exists", Err: err}
	case isMySQLError(err, mysqlOutOfRange):
		return &domain.Error{Kind: domain.KindValidation, Message: "Value out of range", Err: err}
	case isMySQLError(err, mysqlDeadlock), isMySQLError(err, mysqlLockWaitTimeout):
		return &domain.Error{Kind: domain.KindConflict, Message: "Concurrent update, please retry", Err: err}
	default:
		return err
	}
}
