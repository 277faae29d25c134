package postgresql

func migrations() map[int]string {
	return map[int]string{
		1: `
			CREATE TABLE workflow_templates (
				id VARCHAR(64) PRIMARY KEY,
				name VARCHAR(255) NOT NULL,
				description TEXT NOT NULL DEFAULT '',
				lifecycle_type VARCHAR(50) NOT NULL DEFAULT '',
				trigger_kind VARCHAR(50) NOT NULL,
				trigger_config JSONB,
				status VARCHAR(20) NOT NULL CHECK (status IN ('ACTIVE', 'INACTIVE', 'PAUSED', 'DELETED')),
				tenant_id VARCHAR(64) NOT NULL,
				sub_tenant_id VARCHAR(64) NOT NULL DEFAULT '',
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL,
				deleted_at TIMESTAMP WITH TIME ZONE
			);

			CREATE INDEX idx_workflow_templates_scope ON workflow_templates(tenant_id, sub_tenant_id);
			CREATE INDEX idx_workflow_templates_trigger ON workflow_templates(trigger_kind, status);

			CREATE TABLE workflow_actions (
				id VARCHAR(64) PRIMARY KEY,
				template_id VARCHAR(64) NOT NULL REFERENCES workflow_templates(id) ON DELETE CASCADE,
				step INT NOT NULL,
				action_type VARCHAR(50) NOT NULL,
				config JSONB NOT NULL DEFAULT '{}',
				delay_before_minutes INT NOT NULL DEFAULT 0,
				condition JSONB,
				UNIQUE (template_id, step)
			);

			CREATE TABLE workflow_executions (
				id VARCHAR(64) PRIMARY KEY,
				template_id VARCHAR(64) NOT NULL REFERENCES workflow_templates(id),
				status VARCHAR(20) NOT NULL,
				triggered_by VARCHAR(255) NOT NULL DEFAULT '',
				trigger_payload JSONB,
				target_record_id VARCHAR(64) NOT NULL DEFAULT '',
				target_event_id VARCHAR(64) NOT NULL DEFAULT '',
				target_payload JSONB,
				started_at TIMESTAMP WITH TIME ZONE,
				completed_at TIMESTAMP WITH TIME ZONE,
				error_message TEXT NOT NULL DEFAULT '',
				tenant_id VARCHAR(64) NOT NULL,
				sub_tenant_id VARCHAR(64) NOT NULL DEFAULT '',
				current_job_id VARCHAR(64) NOT NULL DEFAULT '',
				attempt INT NOT NULL DEFAULT 0,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL
			);

			CREATE INDEX idx_workflow_executions_scope ON workflow_executions(tenant_id, sub_tenant_id);
			CREATE INDEX idx_workflow_executions_template ON workflow_executions(template_id);
			CREATE INDEX idx_workflow_executions_status ON workflow_executions(status);

			CREATE TABLE action_executions (
				id VARCHAR(64) PRIMARY KEY,
				execution_id VARCHAR(64) NOT NULL REFERENCES workflow_executions(id) ON DELETE CASCADE,
				action_id VARCHAR(64) NOT NULL,
				step INT NOT NULL,
				status VARCHAR(20) NOT NULL,
				started_at TIMESTAMP WITH TIME ZONE,
				completed_at TIMESTAMP WITH TIME ZONE,
				error_message TEXT NOT NULL DEFAULT '',
				result JSONB,
				UNIQUE (execution_id, action_id)
			);
		`,
		2: `
			CREATE TABLE workflow_triggers (
				id VARCHAR(64) PRIMARY KEY,
				template_id VARCHAR(64) NOT NULL UNIQUE REFERENCES workflow_templates(id) ON DELETE CASCADE,
				kind VARCHAR(50) NOT NULL,
				config JSONB,
				cron_expression VARCHAR(100) NOT NULL,
				next_run_at TIMESTAMP WITH TIME ZONE NOT NULL,
				is_active BOOLEAN NOT NULL DEFAULT true,
				last_triggered_at TIMESTAMP WITH TIME ZONE,
				tenant_id VARCHAR(64) NOT NULL,
				sub_tenant_id VARCHAR(64) NOT NULL DEFAULT '',
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL
			);

			CREATE INDEX idx_workflow_triggers_due ON workflow_triggers(next_run_at) WHERE is_active;
		`,
	}
}
