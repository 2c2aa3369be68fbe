package postgresql

func migrations() map[int]string {
	return map[int]string{
		1: `
			CREATE TABLE workflows (
				id VARCHAR(255) PRIMARY KEY,
				name VARCHAR(255) NOT NULL,
				target_url TEXT NOT NULL,
				requires_login BOOLEAN NOT NULL DEFAULT FALSE,
				status VARCHAR(50) NOT NULL CHECK (status IN ('draft', 'confirmed', 'archived')),
				steps JSONB NOT NULL DEFAULT '[]',
				max_retries INT NOT NULL DEFAULT 0,
				stealth_enabled BOOLEAN NOT NULL DEFAULT FALSE,
				custom_user_agent TEXT,
				action_delay_ms INT NOT NULL DEFAULT 0,
				owner VARCHAR(255),
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL,
				deleted_at TIMESTAMP WITH TIME ZONE
			);

			CREATE INDEX idx_workflows_status ON workflows(status);
			CREATE INDEX idx_workflows_owner ON workflows(owner);
			CREATE INDEX idx_workflows_created_at ON workflows(created_at);
			CREATE INDEX idx_workflows_deleted_at ON workflows(deleted_at);
		`,
		2: `
			CREATE TABLE executions (
				id VARCHAR(255) PRIMARY KEY,
				workflow_id VARCHAR(255) NOT NULL,
				status VARCHAR(50) NOT NULL,
				is_dry_run BOOLEAN NOT NULL DEFAULT FALSE,
				retry_count INT NOT NULL DEFAULT 0,
				started_at TIMESTAMP WITH TIME ZONE,
				completed_at TIMESTAMP WITH TIME ZONE,
				error_message TEXT,
				screenshot_path TEXT,
				step_log JSONB NOT NULL DEFAULT '[]',
				display_session_id VARCHAR(255),
				pending_step_order INT,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL
			);

			CREATE INDEX idx_executions_workflow_id ON executions(workflow_id);
			CREATE INDEX idx_executions_status ON executions(status);
			CREATE INDEX idx_executions_created_at ON executions(created_at);
		`,
	}
}
