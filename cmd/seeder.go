package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"github.com/frahmantamala/asset-loan/internal/approvalmatrix"
	rulePostgres "github.com/frahmantamala/asset-loan/internal/approvalmatrix/postgres"
	"github.com/frahmantamala/asset-loan/internal/asset"
	assetPostgres "github.com/frahmantamala/asset-loan/internal/asset/postgres"
	"github.com/frahmantamala/asset-loan/internal/directory"
	directoryPostgres "github.com/frahmantamala/asset-loan/internal/directory/postgres"
	"github.com/frahmantamala/asset-loan/pkg/logger"
)

const seedPassword = "password"

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Seed the database with sample data",
	Long:  `Seed directory users, catalogue assets and approval rules for development and testing purposes.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(configPath)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		sqlDB, err := initDB(cfg.Database)
		if err != nil {
			return fmt.Errorf("failed to init db: %w", err)
		}
		defer sqlDB.Close()

		db, err := initGorm(sqlDB, cfg.Logging.Level)
		if err != nil {
			return fmt.Errorf("failed to init gorm: %w", err)
		}

		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()

		if clearData {
			if err := clearSeedData(ctx, db); err != nil {
				return err
			}
			fmt.Println("Cleared existing data")
		}

		hash, err := bcrypt.GenerateFromPassword([]byte(seedPassword), cfg.Security.BCryptCost)
		if err != nil {
			return fmt.Errorf("failed to hash seed password: %w", err)
		}
		if err := seedUsers(ctx, db, string(hash)); err != nil {
			return err
		}
		if err := seedAssets(ctx, db); err != nil {
			return err
		}
		if err := seedRules(ctx, db, cfg.Workflow.RulesFile, cfg.Workflow.DefaultNoApprovalRequired); err != nil {
			return err
		}

		fmt.Println("Seeding finished; every seeded user logs in with password:", seedPassword)
		return nil
	},
}

var seedUserList = []directory.User{
	{ID: "usr-admin", Email: "admin@example.com", Name: "Padil Admin", Department: "IT", Grade: 15, CanApproveLoans: true, Roles: []string{directory.RoleAdmin}},
	{ID: "usr-manager", Email: "assets@example.com", Name: "Rina Asset Manager", Department: "General Affairs", Grade: 10, CanApproveLoans: true, Roles: []string{directory.RoleAssetManager, directory.RoleEmployee}},
	{ID: "usr-supervisor", Email: "supervisor@example.com", Name: "Budi Supervisor", Department: "Operations", Grade: 8, CanApproveLoans: true, Roles: []string{directory.RoleSupervisor, directory.RoleEmployee}},
	{ID: "usr-director", Email: "director@example.com", Name: "Sari Director", Department: "Operations", Grade: 13, CanApproveLoans: true, Roles: []string{directory.RoleEmployee}},
	{ID: "usr-finance", Email: "finance@example.com", Name: "Tono Finance", Department: "Finance", Grade: 11, CanApproveLoans: true, Roles: []string{directory.RoleFinance, directory.RoleEmployee}},
	{ID: "usr-employee", Email: "fadhil@example.com", Name: "Fadhil", Department: "Operations", Grade: 4, Roles: []string{directory.RoleEmployee}},
}

func seedUsers(ctx context.Context, db *gorm.DB, passwordHash string) error {
	svc := directory.NewService(directoryPostgres.NewUserRepository(db), logger.LoggerWrapper())
	now := time.Now()
	for _, u := range seedUserList {
		u := u
		u.PasswordHash = passwordHash
		u.IsActive = true
		u.CreatedAt = now
		u.UpdatedAt = now
		if err := svc.Save(ctx, &u); err != nil {
			return fmt.Errorf("failed to seed user %s: %w", u.Email, err)
		}
		fmt.Printf("Seeded user: %s %v\n", u.Email, u.Roles)
	}
	return nil
}

var seedAssetList = []struct {
	ID, Name, Category, Serial, Location string
	Value                                string
}{
	{"AST-LAP-001", "ThinkPad X1 Carbon", "laptop", "PF-3K9A21", "Jakarta HQ", "24500000"},
	{"AST-LAP-002", "MacBook Pro 14", "laptop", "C02XK1JHMD6M", "Jakarta HQ", "32000000"},
	{"AST-PRJ-001", "Epson EB-X51 Projector", "projector", "X51-77812", "Jakarta HQ", "7800000"},
	{"AST-CAM-001", "Sony A7 IV", "camera", "SN-4471920", "Bandung Branch", "38500000"},
	{"AST-VEH-001", "Toyota Avanza B 1234 XYZ", "vehicle", "MHKM1BA3JNJ012345", "Jakarta Pool", "245000000"},
	{"AST-TAB-001", "iPad Air", "tablet", "DMPXK2LQ1", "Surabaya Branch", "9500000"},
}

func seedAssets(ctx context.Context, db *gorm.DB) error {
	svc := asset.NewService(assetPostgres.NewAssetRepository(db), logger.LoggerWrapper())
	for _, s := range seedAssetList {
		value, err := decimal.NewFromString(s.Value)
		if err != nil {
			return fmt.Errorf("invalid seed value for %s: %w", s.ID, err)
		}
		a := asset.NewAsset(s.ID, s.Name, s.Category, value)
		a.SerialNumber = s.Serial
		a.Location = s.Location
		if err := svc.Register(ctx, a); err != nil {
			return fmt.Errorf("failed to seed asset %s: %w", s.ID, err)
		}
		fmt.Printf("Seeded asset: %s (%s)\n", s.ID, s.Category)
	}
	return nil
}

func seedRules(ctx context.Context, db *gorm.DB, path string, defaultNoApprovalRequired bool) error {
	if path == "" {
		fmt.Println("No rules file configured; skipping approval rules")
		return nil
	}
	rules, err := approvalmatrix.LoadRulesFile(path)
	if err != nil {
		return fmt.Errorf("failed to load rules from %s: %w", path, err)
	}
	if err := rulePostgres.NewRuleRepository(db, defaultNoApprovalRequired).ReplaceAll(ctx, rules); err != nil {
		return fmt.Errorf("failed to seed approval rules: %w", err)
	}
	fmt.Printf("Seeded %d approval rules from %s\n", len(rules), path)
	return nil
}

func clearSeedData(ctx context.Context, db *gorm.DB) error {
	tables := []string{
		"audit_entries", "outbox_messages", "cross_module_links", "sla_timers",
		"approval_decisions", "loan_transactions", "loan_items", "loan_applications",
		"loan_number_sequences", "approval_rules", "assets", "user_roles", "roles", "users",
	}
	for _, t := range tables {
		if err := db.WithContext(ctx).Exec(fmt.Sprintf("DELETE FROM %s", t)).Error; err != nil {
			return fmt.Errorf("failed to clear %s: %w", t, err)
		}
	}
	return nil
}
