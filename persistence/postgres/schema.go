package postgres

const schema = `
CREATE TABLE IF NOT EXISTS workflow_executions (
	execution_id     TEXT        NOT NULL,
	tenant           TEXT        NOT NULL,
	workflow_name    TEXT        NOT NULL,
	workflow_version INT         NOT NULL,
	current_state    TEXT        NOT NULL,
	status           TEXT        NOT NULL,
	context_data     JSONB,
	created_at       TIMESTAMPTZ NOT NULL,
	updated_at       TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (tenant, execution_id)
);

CREATE TABLE IF NOT EXISTS workflow_events (
	event_id     TEXT        NOT NULL,
	execution_id TEXT        NOT NULL,
	event_name   TEXT        NOT NULL,
	event_type   TEXT        NOT NULL,
	tenant       TEXT        NOT NULL,
	from_state   TEXT        NOT NULL DEFAULT '',
	to_state     TEXT        NOT NULL DEFAULT '',
	user_id      TEXT        NOT NULL DEFAULT '',
	payload      JSONB,
	created_at   TIMESTAMPTZ NOT NULL,
	seq          BIGSERIAL,
	PRIMARY KEY (tenant, event_id)
);
CREATE INDEX IF NOT EXISTS workflow_events_execution_idx
	ON workflow_events (tenant, execution_id, created_at, seq);

CREATE TABLE IF NOT EXISTS workflow_event_processing (
	processing_id TEXT        NOT NULL,
	event_id      TEXT        NOT NULL,
	execution_id  TEXT        NOT NULL,
	tenant        TEXT        NOT NULL,
	status        TEXT        NOT NULL,
	worker_id     TEXT        NOT NULL DEFAULT '',
	attempt_count INT         NOT NULL DEFAULT 0,
	last_attempt  TIMESTAMPTZ,
	error_message TEXT        NOT NULL DEFAULT '',
	created_at    TIMESTAMPTZ NOT NULL,
	updated_at    TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (tenant, event_id),
	UNIQUE (processing_id)
);
CREATE INDEX IF NOT EXISTS workflow_event_processing_status_idx
	ON workflow_event_processing (status, updated_at);

CREATE TABLE IF NOT EXISTS workflow_action_results (
	result_id        TEXT        NOT NULL,
	tenant           TEXT        NOT NULL,
	event_id         TEXT        NOT NULL,
	execution_id     TEXT        NOT NULL,
	action_name      TEXT        NOT NULL,
	action_path      TEXT        NOT NULL DEFAULT '',
	action_group     TEXT        NOT NULL DEFAULT '',
	parameters       JSONB,
	result           JSONB,
	success          BOOLEAN     NOT NULL DEFAULT FALSE,
	error_message    TEXT        NOT NULL DEFAULT '',
	idempotency_key  TEXT        NOT NULL,
	ready_to_execute BOOLEAN     NOT NULL DEFAULT FALSE,
	started_at       TIMESTAMPTZ,
	completed_at     TIMESTAMPTZ,
	created_at       TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (tenant, result_id),
	UNIQUE (tenant, idempotency_key)
);
CREATE INDEX IF NOT EXISTS workflow_action_results_event_idx
	ON workflow_action_results (tenant, execution_id, event_id);

CREATE TABLE IF NOT EXISTS workflow_action_dependencies (
	dependency_id   TEXT NOT NULL,
	tenant          TEXT NOT NULL,
	execution_id    TEXT NOT NULL,
	event_id        TEXT NOT NULL,
	action_id       TEXT NOT NULL,
	depends_on_id   TEXT NOT NULL,
	dependency_type TEXT NOT NULL,
	PRIMARY KEY (tenant, dependency_id)
);

CREATE TABLE IF NOT EXISTS workflow_sync_points (
	sync_id           TEXT        NOT NULL,
	tenant            TEXT        NOT NULL,
	execution_id      TEXT        NOT NULL,
	event_id          TEXT        NOT NULL,
	sync_type         TEXT        NOT NULL,
	status            TEXT        NOT NULL,
	total_actions     INT         NOT NULL,
	completed_actions INT         NOT NULL DEFAULT 0,
	created_at        TIMESTAMPTZ NOT NULL,
	completed_at      TIMESTAMPTZ,
	PRIMARY KEY (tenant, sync_id),
	UNIQUE (tenant, execution_id, event_id),
	CHECK (completed_actions >= 0 AND completed_actions <= total_actions)
);

CREATE TABLE IF NOT EXISTS workflow_timers (
	timer_id      TEXT        NOT NULL,
	tenant        TEXT        NOT NULL,
	execution_id  TEXT        NOT NULL,
	timer_name    TEXT        NOT NULL,
	state_name    TEXT        NOT NULL,
	event_name    TEXT        NOT NULL,
	start_time    TIMESTAMPTZ NOT NULL,
	duration_ms   BIGINT      NOT NULL,
	fire_time     TIMESTAMPTZ NOT NULL,
	recurrence_ms BIGINT      NOT NULL DEFAULT 0,
	status        TEXT        NOT NULL,
	PRIMARY KEY (tenant, timer_id)
);
CREATE INDEX IF NOT EXISTS workflow_timers_due_idx ON workflow_timers (status, fire_time);

CREATE TABLE IF NOT EXISTS task_definitions (
	task_definition_id TEXT        NOT NULL,
	tenant             TEXT        NOT NULL,
	task_type          TEXT        NOT NULL,
	form_ref           TEXT        NOT NULL DEFAULT '',
	default_priority   TEXT        NOT NULL,
	default_sla_ms     BIGINT      NOT NULL,
	created_at         TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (tenant, task_definition_id),
	UNIQUE (tenant, task_type)
);

CREATE TABLE IF NOT EXISTS tasks (
	task_id            TEXT        NOT NULL,
	tenant             TEXT        NOT NULL,
	execution_id       TEXT        NOT NULL,
	task_definition_id TEXT        NOT NULL,
	title              TEXT        NOT NULL,
	description        TEXT        NOT NULL DEFAULT '',
	status             TEXT        NOT NULL,
	priority           TEXT        NOT NULL,
	due_date           TIMESTAMPTZ,
	context_data       JSONB,
	assigned_roles     TEXT[],
	assigned_users     TEXT[],
	created_by         TEXT        NOT NULL DEFAULT '',
	created_at         TIMESTAMPTZ NOT NULL,
	claimed_by         TEXT        NOT NULL DEFAULT '',
	claimed_at         TIMESTAMPTZ,
	completed_by       TEXT        NOT NULL DEFAULT '',
	completed_at       TIMESTAMPTZ,
	response_data      JSONB,
	PRIMARY KEY (tenant, task_id)
);
CREATE INDEX IF NOT EXISTS tasks_due_idx ON tasks (status, due_date);

CREATE TABLE IF NOT EXISTS task_history (
	history_id  TEXT        NOT NULL,
	tenant      TEXT        NOT NULL,
	task_id     TEXT        NOT NULL,
	verb        TEXT        NOT NULL,
	from_status TEXT        NOT NULL DEFAULT '',
	to_status   TEXT        NOT NULL,
	user_id     TEXT        NOT NULL DEFAULT '',
	data        JSONB,
	created_at  TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (tenant, history_id)
);
`
