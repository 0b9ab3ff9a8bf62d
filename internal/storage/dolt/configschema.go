package dolt

// currentConfigSchemaVersion tracks the server-wide configuration
// database separately from currentSchemaVersion (the per-product schema):
// the two stores evolve on independent timelines, preserving the
// two-tier split between the server-wide config DB and per-product DBs.
const currentConfigSchemaVersion = 1

// configSchema is the DDL for the server-wide configuration store: the
// product registry and the task manager's persisted records.
// Both live in one reserved Dolt database, separate from every per-product
// database, so a Task survives independently of which product it touched
// (and tasks with no product, e.g. admin maintenance jobs, have somewhere
// to live).
const configSchema = `
CREATE TABLE IF NOT EXISTS config (
	` + "`key`" + ` VARCHAR(128) PRIMARY KEY,
	` + "`value`" + ` TEXT
);

CREATE TABLE IF NOT EXISTS products (
	id INT AUTO_INCREMENT PRIMARY KEY,
	endpoint VARCHAR(256) NOT NULL,
	displayed_name VARCHAR(512) NOT NULL,
	description TEXT,
	db_connection_spec TEXT NOT NULL,
	run_limit INT NOT NULL DEFAULT 0,
	review_status_change_disabled BOOL NOT NULL DEFAULT FALSE,
	retired BOOL NOT NULL DEFAULT FALSE,
	UNIQUE KEY uq_products_endpoint (endpoint)
);

CREATE TABLE IF NOT EXISTS tasks (
	token VARCHAR(64) PRIMARY KEY,
	kind VARCHAR(128) NOT NULL,
	status VARCHAR(16) NOT NULL,
	product_id INT NULL,
	actor VARCHAR(256),
	enqueued_at DATETIME NOT NULL,
	started_at DATETIME NULL,
	completed_at DATETIME NULL,
	last_heartbeat DATETIME NOT NULL,
	cancel_flag BOOL NOT NULL DEFAULT FALSE,
	consumed_flag BOOL NOT NULL DEFAULT FALSE,
	error_message TEXT,
	KEY idx_tasks_kind_status (kind, status),
	KEY idx_tasks_product (product_id)
);
`

const defaultConfigStoreConfig = `
INSERT IGNORE INTO config (` + "`key`" + `, ` + "`value`" + `) VALUES ('schema_version', '0');
`
