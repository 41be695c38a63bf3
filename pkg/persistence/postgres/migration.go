package postgres

func migrations() map[int]string {
	return map[int]string{
		1: `
			CREATE TABLE workflows (
				id VARCHAR(255) PRIMARY KEY,
				name VARCHAR(255) NOT NULL,
				description TEXT NOT NULL DEFAULT '',
				trigger_kind VARCHAR(255) NOT NULL,
				entry_rules JSONB NOT NULL DEFAULT '[]',
				steps JSONB NOT NULL DEFAULT '[]',
				is_active BOOLEAN NOT NULL DEFAULT false,
				max_concurrent_per_entity INT NOT NULL DEFAULT 1,
				cooldown_ns BIGINT NOT NULL DEFAULT 0,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				published_at TIMESTAMP WITH TIME ZONE
			);

			CREATE INDEX idx_workflows_trigger_kind ON workflows(trigger_kind) WHERE is_active;

			CREATE TABLE executions (
				id VARCHAR(255) PRIMARY KEY,
				workflow_id VARCHAR(255) NOT NULL,
				entity_id VARCHAR(255) NOT NULL,
				status VARCHAR(50) NOT NULL,
				current_step_index INT NOT NULL DEFAULT 0,
				context JSONB NOT NULL DEFAULT '{}',
				retry_count INT NOT NULL DEFAULT 0,
				wake_op VARCHAR(50) NOT NULL DEFAULT '',
				next_wake_at TIMESTAMP WITH TIME ZONE,
				completed_at TIMESTAMP WITH TIME ZONE,
				error TEXT NOT NULL DEFAULT '',
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL,
				version BIGINT NOT NULL DEFAULT 1
			);

			-- One active execution per (workflow, entity) pair. The insert in
			-- CreateActive races against this index, not against a read.
			CREATE UNIQUE INDEX idx_executions_active_pair
				ON executions(workflow_id, entity_id)
				WHERE status IN ('running', 'waiting', 'paused');

			CREATE INDEX idx_executions_status ON executions(status);
			CREATE INDEX idx_executions_pair ON executions(workflow_id, entity_id);
			CREATE INDEX idx_executions_completed_at ON executions(completed_at);

			CREATE TABLE segments (
				id VARCHAR(255) PRIMARY KEY,
				name VARCHAR(255) NOT NULL,
				rules JSONB NOT NULL DEFAULT '[]',
				is_dynamic BOOLEAN NOT NULL DEFAULT true,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL
			);

			CREATE TABLE segment_memberships (
				segment_id VARCHAR(255) NOT NULL,
				entity_id VARCHAR(255) NOT NULL,
				reason VARCHAR(50) NOT NULL,
				joined_at TIMESTAMP WITH TIME ZONE NOT NULL,
				left_at TIMESTAMP WITH TIME ZONE,
				left_reason VARCHAR(50) NOT NULL DEFAULT ''
			);

			-- At most one open membership per (segment, entity); closed rows
			-- accumulate as history.
			CREATE UNIQUE INDEX idx_memberships_open
				ON segment_memberships(segment_id, entity_id)
				WHERE left_at IS NULL;

			CREATE INDEX idx_memberships_pair ON segment_memberships(segment_id, entity_id);
			CREATE INDEX idx_memberships_segment_open ON segment_memberships(segment_id) WHERE left_at IS NULL;

			CREATE TABLE scheduled_triggers (
				id VARCHAR(255) PRIMARY KEY,
				trigger_kind VARCHAR(255) NOT NULL,
				cron_expression VARCHAR(255) NOT NULL,
				entity_id VARCHAR(255) NOT NULL DEFAULT '',
				segment_id VARCHAR(255) NOT NULL DEFAULT '',
				payload JSONB NOT NULL DEFAULT '{}',
				next_due_at TIMESTAMP WITH TIME ZONE NOT NULL,
				active BOOLEAN NOT NULL DEFAULT true,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL
			);

			CREATE INDEX idx_scheduled_triggers_due ON scheduled_triggers(next_due_at) WHERE active;
		`,
	}
}
