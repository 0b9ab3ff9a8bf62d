package dolt

// currentSchemaVersion is bumped whenever schema (below) or migrations
// changes the on-disk shape. initSchemaOnDB short-circuits once a store's
// persisted `config.schema_version` matches.
const currentSchemaVersion = 1

// schema is the forward DDL for a fresh product database: runs and their
// history, files and content blobs, reports with their bug paths and
// extended data, review-status rules, comments, source components, and
// cleanup plans.
// Product itself lives only in the server-wide configuration store
// (internal/registry), not here: each of these databases belongs to
// exactly one product.
const schema = `
CREATE TABLE IF NOT EXISTS config (
	` + "`key`" + ` VARCHAR(128) PRIMARY KEY,
	` + "`value`" + ` TEXT
);

CREATE TABLE IF NOT EXISTS runs (
	id INT AUTO_INCREMENT PRIMARY KEY,
	name VARCHAR(512) NOT NULL,
	created_at DATETIME NOT NULL,
	latest_duration_ms BIGINT NOT NULL DEFAULT 0,
	UNIQUE KEY uq_runs_name (name)
);

CREATE TABLE IF NOT EXISTS run_history (
	id INT AUTO_INCREMENT PRIMARY KEY,
	run_id INT NOT NULL,
	version_tag VARCHAR(256),
	stored_at DATETIME NOT NULL,
	user VARCHAR(256),
	cc_client_version VARCHAR(64),
	description TEXT,
	count_new INT NOT NULL DEFAULT 0,
	count_resolved INT NOT NULL DEFAULT 0,
	count_unresolved INT NOT NULL DEFAULT 0,
	count_reopened INT NOT NULL DEFAULT 0,
	count_off INT NOT NULL DEFAULT 0,
	count_unavailable INT NOT NULL DEFAULT 0,
	KEY idx_run_history_run (run_id, stored_at)
);

CREATE TABLE IF NOT EXISTS file_contents (
	content_hash VARCHAR(64) PRIMARY KEY,
	bytes LONGBLOB NOT NULL,
	blame_bytes LONGBLOB,
	ref_count INT NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS files (
	id INT AUTO_INCREMENT PRIMARY KEY,
	run_id INT NOT NULL,
	filepath TEXT NOT NULL,
	content_hash VARCHAR(64) NOT NULL,
	KEY idx_files_run (run_id)
);

CREATE TABLE IF NOT EXISTS reports (
	id INT AUTO_INCREMENT PRIMARY KEY,
	run_id INT NOT NULL,
	file_id INT NOT NULL,
	line INT NOT NULL,
	column_no INT NOT NULL,
	checker_id VARCHAR(256) NOT NULL,
	analyzer_name VARCHAR(128) NOT NULL,
	checker_msg TEXT NOT NULL,
	severity VARCHAR(32) NOT NULL DEFAULT 'UNSPECIFIED',
	report_hash VARCHAR(64) NOT NULL,
	bug_path_length INT NOT NULL DEFAULT 0,
	detected_at DATETIME NOT NULL,
	fixed_at DATETIME NULL,
	detection_status VARCHAR(16) NOT NULL,
	annotations TEXT,
	KEY idx_reports_run (run_id),
	KEY idx_reports_hash (report_hash),
	KEY idx_reports_run_hash (run_id, report_hash)
);

CREATE TABLE IF NOT EXISTS bug_path_events (
	id INT AUTO_INCREMENT PRIMARY KEY,
	report_id INT NOT NULL,
	seq INT NOT NULL,
	file_id INT NOT NULL,
	start_line INT NOT NULL,
	start_col INT NOT NULL,
	end_line INT NOT NULL,
	end_col INT NOT NULL,
	msg TEXT NOT NULL,
	KEY idx_bpe_report (report_id, seq)
);

CREATE TABLE IF NOT EXISTS extended_report_data (
	id INT AUTO_INCREMENT PRIMARY KEY,
	report_id INT NOT NULL,
	seq INT NOT NULL,
	kind VARCHAR(8) NOT NULL,
	file_id INT NOT NULL,
	start_line INT NOT NULL,
	start_col INT NOT NULL,
	end_line INT NOT NULL,
	end_col INT NOT NULL,
	msg TEXT NOT NULL,
	KEY idx_erd_report (report_id, seq)
);

CREATE TABLE IF NOT EXISTS review_status_rules (
	report_hash VARCHAR(64) PRIMARY KEY,
	status VARCHAR(16) NOT NULL,
	comment TEXT,
	author VARCHAR(256),
	date DATETIME NOT NULL,
	is_in_source BOOL NOT NULL DEFAULT FALSE
);

CREATE TABLE IF NOT EXISTS comments (
	id INT AUTO_INCREMENT PRIMARY KEY,
	report_id INT NOT NULL,
	author VARCHAR(256),
	message TEXT NOT NULL,
	created_at DATETIME NOT NULL,
	kind VARCHAR(8) NOT NULL DEFAULT 'USER',
	KEY idx_comments_report (report_id)
);

CREATE TABLE IF NOT EXISTS source_components (
	name VARCHAR(256) PRIMARY KEY,
	patterns TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS cleanup_plans (
	id INT AUTO_INCREMENT PRIMARY KEY,
	name VARCHAR(256) NOT NULL,
	due_date DATETIME,
	closed BOOL NOT NULL DEFAULT FALSE
);

CREATE TABLE IF NOT EXISTS cleanup_plan_members (
	plan_id INT NOT NULL,
	report_hash VARCHAR(64) NOT NULL,
	PRIMARY KEY (plan_id, report_hash)
);
`

// defaultConfig seeds rows new databases need before they can serve traffic.
const defaultConfig = `
INSERT IGNORE INTO config (` + "`key`" + `, ` + "`value`" + `) VALUES ('schema_version', '0');
`
