package postgresql

import "github.com/dukex/flowpilot/pkg/persistence/sqlbase"

func migrations() []sqlbase.Migration {
	return []sqlbase.Migration{
		{
			Version:     1,
			Description: "records table",
			SQL: `
				CREATE TABLE records (
					kind VARCHAR(64) NOT NULL,
					id VARCHAR(255) NOT NULL,
					data JSONB NOT NULL,
					created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
					updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
					PRIMARY KEY (kind, id)
				);

				CREATE INDEX idx_records_data ON records USING GIN (data jsonb_path_ops);
				CREATE INDEX idx_records_kind_created_at ON records(kind, created_at);
			`,
		},
		{
			Version:     2,
			Description: "org, workflow and agent lookups",
			SQL: `
				CREATE INDEX idx_records_org_id ON records(kind, (data->>'org_id'));
				CREATE INDEX idx_records_workflow_id ON records(kind, (data->>'workflow_id'));
				CREATE INDEX idx_records_agent_id ON records(kind, (data->>'agent_id'));
			`,
		},
	}
}
