package postgresql

func migrations() map[int]string {
	return map[int]string{
		1: `
			CREATE TABLE IF NOT EXISTS organisations (
				id VARCHAR(64) PRIMARY KEY,
				name VARCHAR(255) NOT NULL
			);

			CREATE TABLE IF NOT EXISTS records (
				id VARCHAR(64) PRIMARY KEY,
				tenant_id VARCHAR(64) NOT NULL,
				sub_tenant_id VARCHAR(64) NOT NULL DEFAULT '',
				first_name VARCHAR(255) NOT NULL DEFAULT '',
				last_name VARCHAR(255) NOT NULL DEFAULT '',
				email VARCHAR(255) NOT NULL DEFAULT '',
				phone VARCHAR(64) NOT NULL DEFAULT '',
				date_of_birth DATE,
				status VARCHAR(50) NOT NULL DEFAULT '',
				membership_status VARCHAR(50) NOT NULL DEFAULT '',
				membership_expires_at TIMESTAMP WITH TIME ZONE,
				attributes JSONB,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
			);

			CREATE INDEX IF NOT EXISTS idx_records_scope ON records(tenant_id, sub_tenant_id, status);
			CREATE INDEX IF NOT EXISTS idx_records_membership_expiry ON records(membership_expires_at);

			CREATE TABLE IF NOT EXISTS record_groups (
				group_id VARCHAR(64) NOT NULL,
				record_id VARCHAR(64) NOT NULL REFERENCES records(id) ON DELETE CASCADE,
				PRIMARY KEY (group_id, record_id)
			);

			CREATE TABLE IF NOT EXISTS events (
				id VARCHAR(64) PRIMARY KEY,
				tenant_id VARCHAR(64) NOT NULL,
				sub_tenant_id VARCHAR(64) NOT NULL DEFAULT '',
				title VARCHAR(255) NOT NULL,
				description TEXT NOT NULL DEFAULT '',
				location VARCHAR(255) NOT NULL DEFAULT '',
				start_date TIMESTAMP WITH TIME ZONE NOT NULL,
				status VARCHAR(50) NOT NULL DEFAULT '',
				attributes JSONB
			);

			CREATE INDEX IF NOT EXISTS idx_events_start_date ON events(start_date);
		`,
		2: `
			CREATE TABLE IF NOT EXISTS record_status_changes (
				id BIGSERIAL PRIMARY KEY,
				record_id VARCHAR(64) NOT NULL,
				field VARCHAR(50) NOT NULL,
				previous_value VARCHAR(50) NOT NULL DEFAULT '',
				value VARCHAR(50) NOT NULL,
				reason TEXT NOT NULL DEFAULT '',
				execution_id VARCHAR(64) NOT NULL DEFAULT '',
				changed_at TIMESTAMP WITH TIME ZONE NOT NULL
			);

			CREATE INDEX IF NOT EXISTS idx_record_status_changes_record ON record_status_changes(record_id);
		`,
	}
}
