package postgresql

func migrations() map[int]string {
	return map[int]string{
		1: `
			-- Reference data: engineering standards and their coefficients
			CREATE TABLE engineering_standards (
				code VARCHAR(100) PRIMARY KEY,
				name VARCHAR(255) NOT NULL,
				description TEXT NOT NULL DEFAULT '',
				standard_type VARCHAR(50) NOT NULL DEFAULT '',
				domain VARCHAR(100) NOT NULL,
				active BOOLEAN NOT NULL DEFAULT true,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL
			);

			CREATE INDEX idx_engineering_standards_domain ON engineering_standards(domain);

			CREATE TABLE standard_coefficients (
				standard_code VARCHAR(100) NOT NULL REFERENCES engineering_standards(code) ON DELETE CASCADE,
				position INT NOT NULL,
				name VARCHAR(255) NOT NULL,
				coefficient_type VARCHAR(50) NOT NULL DEFAULT '',
				source VARCHAR(20) NOT NULL CHECK (source IN ('table', 'formula', 'external_lookup')),
				table_data JSONB,
				formula TEXT,
				external_ref VARCHAR(255),
				unit VARCHAR(50) NOT NULL DEFAULT '',
				PRIMARY KEY (standard_code, position),
				CHECK (
					(source = 'table' AND table_data IS NOT NULL AND formula IS NULL AND external_ref IS NULL) OR
					(source = 'formula' AND formula IS NOT NULL AND table_data IS NULL AND external_ref IS NULL) OR
					(source = 'external_lookup' AND external_ref IS NOT NULL AND table_data IS NULL AND formula IS NULL)
				)
			);

			CREATE INDEX idx_standard_coefficients_name ON standard_coefficients(standard_code, name);

			-- Pipeline definitions
			CREATE TABLE calculation_pipelines (
				id VARCHAR(100) PRIMARY KEY,
				name VARCHAR(255) NOT NULL,
				description TEXT NOT NULL DEFAULT '',
				domain VARCHAR(100) NOT NULL,
				standard_code VARCHAR(100),
				version VARCHAR(50) NOT NULL DEFAULT '',
				tags JSONB NOT NULL DEFAULT '[]',
				active BOOLEAN NOT NULL DEFAULT true,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL
			);

			CREATE INDEX idx_calculation_pipelines_domain ON calculation_pipelines(domain);
			CREATE INDEX idx_calculation_pipelines_active ON calculation_pipelines(active);

			CREATE TABLE calculation_steps (
				pipeline_id VARCHAR(100) NOT NULL REFERENCES calculation_pipelines(id) ON DELETE CASCADE,
				id VARCHAR(100) NOT NULL,
				position INT NOT NULL,
				step_number INT NOT NULL,
				name VARCHAR(255) NOT NULL,
				description TEXT NOT NULL DEFAULT '',
				standard_code VARCHAR(100),
				calculation_type VARCHAR(50) NOT NULL,
				definition JSONB NOT NULL DEFAULT '{}',
				input_config JSONB NOT NULL DEFAULT '{}',
				output_config JSONB NOT NULL DEFAULT '{}',
				validation_config JSONB,
				active BOOLEAN NOT NULL DEFAULT true,
				PRIMARY KEY (pipeline_id, id)
			);

			-- Both endpoints reference steps of the same pipeline
			CREATE TABLE calculation_dependencies (
				pipeline_id VARCHAR(100) NOT NULL,
				step_id VARCHAR(100) NOT NULL,
				depends_on_step_id VARCHAR(100) NOT NULL,
				position INT NOT NULL,
				input_mapping JSONB,
				PRIMARY KEY (pipeline_id, step_id, depends_on_step_id),
				FOREIGN KEY (pipeline_id, step_id) REFERENCES calculation_steps(pipeline_id, id) ON DELETE CASCADE,
				FOREIGN KEY (pipeline_id, depends_on_step_id) REFERENCES calculation_steps(pipeline_id, id) ON DELETE CASCADE,
				CHECK (step_id <> depends_on_step_id)
			);

			CREATE TABLE calculation_validations (
				pipeline_id VARCHAR(100) NOT NULL,
				step_id VARCHAR(100) NOT NULL,
				position INT NOT NULL,
				id VARCHAR(100) NOT NULL DEFAULT '',
				validation_type VARCHAR(20) NOT NULL CHECK (validation_type IN ('range', 'lookup', 'formula', 'standard')),
				config JSONB NOT NULL DEFAULT '{}',
				failure_action VARCHAR(20) NOT NULL DEFAULT 'stop',
				standard_section VARCHAR(100) NOT NULL DEFAULT '',
				message TEXT NOT NULL DEFAULT '',
				active BOOLEAN NOT NULL DEFAULT true,
				PRIMARY KEY (pipeline_id, step_id, position),
				FOREIGN KEY (pipeline_id, step_id) REFERENCES calculation_steps(pipeline_id, id) ON DELETE CASCADE
			);

			-- Execution history
			CREATE TABLE calculation_executions (
				id VARCHAR(64) PRIMARY KEY,
				pipeline_id VARCHAR(100) NOT NULL,
				status VARCHAR(20) NOT NULL CHECK (status IN ('pending', 'running', 'completed', 'failed', 'aborted')),
				input_data JSONB NOT NULL DEFAULT '{}',
				output_data JSONB,
				start_time TIMESTAMP WITH TIME ZONE NOT NULL,
				end_time TIMESTAMP WITH TIME ZONE,
				execution_time DOUBLE PRECISION NOT NULL DEFAULT 0,
				error_message TEXT NOT NULL DEFAULT '',
				step_count INT NOT NULL DEFAULT 0,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
			);

			CREATE INDEX idx_calculation_executions_pipeline ON calculation_executions(pipeline_id, start_time DESC);
			CREATE INDEX idx_calculation_executions_status ON calculation_executions(status, start_time);

			CREATE TABLE step_executions (
				id VARCHAR(64) PRIMARY KEY,
				seq BIGSERIAL NOT NULL,
				execution_id VARCHAR(64) NOT NULL REFERENCES calculation_executions(id) ON DELETE CASCADE,
				step_id VARCHAR(100) NOT NULL,
				step_name VARCHAR(255) NOT NULL,
				calculation_type VARCHAR(50) NOT NULL DEFAULT '',
				status VARCHAR(20) NOT NULL CHECK (status IN ('pending', 'running', 'completed', 'failed', 'aborted')),
				input_data JSONB NOT NULL DEFAULT '{}',
				output_data JSONB,
				validation_passed BOOLEAN NOT NULL DEFAULT false,
				validation_errors JSONB,
				error_message TEXT NOT NULL DEFAULT '',
				start_time TIMESTAMP WITH TIME ZONE NOT NULL,
				end_time TIMESTAMP WITH TIME ZONE,
				execution_time DOUBLE PRECISION NOT NULL DEFAULT 0
			);

			CREATE INDEX idx_step_executions_execution ON step_executions(execution_id, seq);
		`,
		2: `
			-- Last write of the owning run, used to find abandoned executions
			ALTER TABLE calculation_executions ADD COLUMN updated_at TIMESTAMP WITH TIME ZONE;

			UPDATE calculation_executions SET updated_at = COALESCE(end_time, start_time);

			ALTER TABLE calculation_executions ALTER COLUMN updated_at SET NOT NULL;

			DROP INDEX idx_calculation_executions_status;
			CREATE INDEX idx_calculation_executions_status ON calculation_executions(status, updated_at);
		`,
	}
}
