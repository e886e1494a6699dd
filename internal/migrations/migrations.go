package migrations

import (
	"database/sql"
	"github.com/lopezator/migrator"
)

func Up(db *sql.DB) error {
	m, err := migrator.New(
		migrator.Migrations(
			&migrator.MigrationNoTx{
				Name: "Create orders table",
				Func: createOrdersTable,
			},
			&migrator.MigrationNoTx{
				Name: "Create pending orders index",
				Func: createPendingIndex,
			},
			&migrator.MigrationNoTx{
				Name: "Add orders failed_at",
				Func: addFailedAt,
			},
		),
	)
	if err != nil {
		return err
	}

	return m.Migrate(db)
}

func createOrdersTable(db *sql.DB) error {
	if _, err := db.Exec("CREATE TYPE order_status AS ENUM ('Pending', 'Processed')"); err != nil {
		return err
	}

	_, err := db.Exec(`
CREATE TABLE orders
(
    id           uuid         PRIMARY KEY,
    customer     varchar(200) NOT NULL,
    CHECK (btrim(customer) <> ''),
    table_number integer      NOT NULL,
    CHECK (table_number > 0),
    items        jsonb        NOT NULL,
    CHECK (jsonb_typeof(items) = 'array' AND jsonb_array_length(items) > 0),
    status       order_status NOT NULL DEFAULT 'Pending',
    created_at   timestamptz  NOT NULL DEFAULT now(),
    updated_at   timestamptz  NOT NULL DEFAULT now(),
    receipt_ref  varchar(255),
    CHECK ((status = 'Processed') = (receipt_ref IS NOT NULL))
)
	`)

	return err
}

func createPendingIndex(db *sql.DB) error {
	_, err := db.Exec("CREATE INDEX orders_pending_idx ON orders (created_at) WHERE status = 'Pending'")

	return err
}

// addFailedAt добавляет отметку об отправке задачи в очередь недоставленных сообщений.
// Отмеченные заказы исключаются из индекса необработанных заказов.
func addFailedAt(db *sql.DB) error {
	if _, err := db.Exec("ALTER TABLE orders ADD COLUMN failed_at timestamptz"); err != nil {
		return err
	}

	if _, err := db.Exec("DROP INDEX orders_pending_idx"); err != nil {
		return err
	}

	_, err := db.Exec(
		"CREATE INDEX orders_pending_idx ON orders (created_at) WHERE status = 'Pending' AND failed_at IS NULL",
	)

	return err
}
