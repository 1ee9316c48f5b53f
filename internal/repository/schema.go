package repository

// Schema holds the idempotent DDL for the portal tables. The CHECK
// constraints mirror the lifecycle timestamp invariants so that no writer can
// persist a published assignment without published_at, or a completed one
// without completed_at.
var Schema = []string{
	`CREATE TABLE IF NOT EXISTS assignments (
	id UUID PRIMARY KEY,
	title TEXT NOT NULL CHECK (length(title) > 0),
	description TEXT NOT NULL CHECK (length(description) > 0),
	due_date TIMESTAMPTZ NOT NULL,
	status TEXT NOT NULL DEFAULT 'draft' CHECK (status IN ('draft', 'published', 'completed')),
	created_by TEXT NOT NULL,
	published_at TIMESTAMPTZ,
	completed_at TIMESTAMPTZ,
	version BIGINT NOT NULL DEFAULT 1,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	CONSTRAINT assignments_published_at_check CHECK ((status = 'draft') = (published_at IS NULL)),
	CONSTRAINT assignments_completed_at_check CHECK ((status = 'completed') = (completed_at IS NOT NULL)),
	CONSTRAINT assignments_timeline_check CHECK (completed_at IS NULL OR published_at <= completed_at)
)`,
	`CREATE INDEX IF NOT EXISTS assignments_created_by_idx ON assignments (created_by, created_at DESC)`,
	`CREATE INDEX IF NOT EXISTS assignments_published_due_idx ON assignments (due_date) WHERE status = 'published'`,
	`CREATE TABLE IF NOT EXISTS submissions (
	id UUID PRIMARY KEY,
	assignment_id UUID NOT NULL REFERENCES assignments (id) ON DELETE CASCADE,
	student_id TEXT NOT NULL,
	answer TEXT NOT NULL CHECK (length(answer) > 0),
	submitted_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	reviewed BOOLEAN NOT NULL DEFAULT false,
	reviewed_at TIMESTAMPTZ,
	feedback TEXT,
	CONSTRAINT submissions_assignment_student_key UNIQUE (assignment_id, student_id),
	CONSTRAINT submissions_reviewed_at_check CHECK (reviewed = (reviewed_at IS NOT NULL))
)`,
	`CREATE INDEX IF NOT EXISTS submissions_student_idx ON submissions (student_id, submitted_at DESC)`,
	`CREATE TABLE IF NOT EXISTS audit_logs (
	id UUID PRIMARY KEY,
	user_id TEXT,
	action TEXT NOT NULL,
	resource TEXT NOT NULL,
	resource_id TEXT,
	old_values JSONB,
	new_values JSONB,
	ip_address TEXT NOT NULL DEFAULT '',
	user_agent TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`,
}
