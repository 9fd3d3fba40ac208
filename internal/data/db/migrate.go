package db

import (
	"fmt"

	"gorm.io/gorm"

	types "github.com/lsst-sqre/ltd-keeper-sub000/internal/domain"
)

func AutoMigrateAll(gdb *gorm.DB) error {
	if err := gdb.AutoMigrate(
		&types.Product{},
		&types.Build{},
		&types.Edition{},
	); err != nil {
		return err
	}
	return addForeignKeys(gdb)
}

// addForeignKeys wires parent references by hand because automatic FK
// creation is disabled at connection time. Products are not deletable
// while builds or editions still reference them.
func addForeignKeys(gdb *gorm.DB) error {
	constraints := []struct {
		name string
		stmt string
	}{
		{
			name: "fk_build_product_id",
			stmt: `ALTER TABLE "build" ADD CONSTRAINT "fk_build_product_id"
				FOREIGN KEY ("product_id") REFERENCES "product"("id") ON DELETE RESTRICT`,
		},
		{
			name: "fk_edition_product_id",
			stmt: `ALTER TABLE "edition" ADD CONSTRAINT "fk_edition_product_id"
				FOREIGN KEY ("product_id") REFERENCES "product"("id") ON DELETE RESTRICT`,
		},
		{
			name: "fk_edition_build_id",
			stmt: `ALTER TABLE "edition" ADD CONSTRAINT "fk_edition_build_id"
				FOREIGN KEY ("build_id") REFERENCES "build"("id") ON DELETE RESTRICT`,
		},
	}
	for _, c := range constraints {
		stmt := fmt.Sprintf(`DO $$
BEGIN
	IF NOT EXISTS (SELECT 1 FROM pg_constraint WHERE conname = '%s') THEN
		%s;
	END IF;
END $$;`, c.name, c.stmt)
		if err := gdb.Exec(stmt).Error; err != nil {
			return fmt.Errorf("failed to add %s: %w", c.name, err)
		}
	}
	return nil
}
