package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/google/uuid"

	"github.com/rl1809/pharmacy/internal/adapter/storage"
	"github.com/rl1809/pharmacy/internal/config"
	"github.com/rl1809/pharmacy/internal/core/domain"
	"github.com/rl1809/pharmacy/internal/core/service"
	"github.com/rl1809/pharmacy/internal/port"
)

const (
	initialStock       = 20
	totalPrescriptions = 50
	duplicateCreates   = 20
)

var (
	pharmacist = domain.Principal{UserID: uuid.NewString(), Role: domain.RolePharmacist}
	doctor     = domain.Principal{UserID: uuid.NewString(), Role: domain.RoleDoctor}
)

func main() {
	ctx := context.Background()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	var db port.DatabaseRepository
	if cfg.Store == config.StoreMemory {
		db = storage.NewMemoryAdapter()
	} else {
		dsn, err := storage.NormalizeDSN(cfg.MySQLDSN)
		if err != nil {
			log.Fatalf("invalid MYSQL_DSN: %v", err)
		}
		sqlDB, err := sql.Open("mysql", dsn)
		if err != nil {
			log.Fatalf("failed to open mysql: %v", err)
		}
		defer sqlDB.Close()
		sqlDB.SetMaxOpenConns(cfg.MySQLMaxOpenConns)

		adapter := storage.NewMySQLAdapter(sqlDB)
		if err := adapter.Migrate(ctx); err != nil {
			log.Fatalf("failed to migrate: %v", err)
		}
		db = adapter
	}

	inventory := service.NewInventoryService(db, nil, nil)
	prescriptions := service.NewPrescriptionService(service.PrescriptionDeps{DB: db})

	// Unique name per run so reruns against the same database do not collide.
	name := "stress-" + uuid.NewString()[:8]

	var created, rejected atomic.Int32
	var medID atomic.Value
	var wg sync.WaitGroup
	for range duplicateCreates {
		wg.Add(1)
		go func() {
			defer wg.Done()
			stock, price := initialStock, 1000
			med, err := inventory.CreateMedicine(ctx, pharmacist, domain.NewMedicine{Name: name, Stock: &stock, Price: &price})
			if err != nil {
				rejected.Add(1)
				return
			}
			created.Add(1)
			medID.Store(med.ID)
		}()
	}
	wg.Wait()

	fmt.Println("========== DUPLICATE CREATE ==========")
	fmt.Printf("Attempts:         %d\n", duplicateCreates)
	fmt.Printf("Created:          %d\n", created.Load())
	fmt.Printf("Rejected:         %d\n", rejected.Load())
	if created.Load() != 1 {
		log.Fatalf("FAIL: expected exactly one medicine named %s", name)
	}
	fmt.Println("PASS: name stayed unique")

	id := medID.Load().(string)
	ids := make([]string, 0, totalPrescriptions)
	for range totalPrescriptions {
		p, err := prescriptions.Create(ctx, doctor, service.PrescriptionInput{
			PatientID: uuid.NewString(),
			Medicines: []domain.MedicineRequest{{MedicineID: id, NeededQty: 1}},
		})
		if err != nil {
			log.Fatalf("failed to create prescription: %v", err)
		}
		ids = append(ids, p.ID)
	}

	var fulfilled, failed atomic.Int32
	start := time.Now()
	for _, pid := range ids {
		wg.Add(1)
		go func(pid string) {
			defer wg.Done()
			res, err := prescriptions.Process(ctx, pharmacist, pid)
			if err != nil {
				failed.Add(1)
				return
			}
			if res.Status == domain.StatusFinished {
				fulfilled.Add(1)
			}
		}(pid)
	}
	wg.Wait()
	elapsed := time.Since(start)

	med, err := inventory.GetMedicine(ctx, pharmacist, id)
	if err != nil {
		log.Fatalf("failed to read medicine: %v", err)
	}

	fmt.Println("========== CONCURRENT PROCESS ==========")
	fmt.Printf("Initial Stock:    %d\n", initialStock)
	fmt.Printf("Prescriptions:    %d\n", totalPrescriptions)
	fmt.Printf("Fulfilled:        %d\n", fulfilled.Load())
	fmt.Printf("Errors:           %d\n", failed.Load())
	fmt.Printf("Final Stock:      %d\n", med.Stock)
	fmt.Printf("Duration:         %v\n", elapsed)
	fmt.Println("========================================")

	if fulfilled.Load() == initialStock && med.Stock == 0 {
		fmt.Printf("PASS: exactly %d prescriptions fulfilled, stock depleted\n", initialStock)
	} else {
		fmt.Printf("FAIL: expected %d fulfilled and stock 0, got %d and %d\n", initialStock, fulfilled.Load(), med.Stock)
	}
}
