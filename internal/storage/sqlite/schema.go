package sqlite

const schema = `
-- Cases table
CREATE TABLE IF NOT EXISTS cases (
    id TEXT PRIMARY KEY,
    name TEXT NOT NULL,
    briefing TEXT NOT NULL DEFAULT '',
    transaction_type TEXT NOT NULL DEFAULT '',
    owner TEXT NOT NULL DEFAULT '',
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

-- Documents table (external identity; text may live in the object store)
CREATE TABLE IF NOT EXISTS documents (
    id TEXT PRIMARY KEY,
    case_id TEXT NOT NULL,
    filename TEXT NOT NULL,
    folder TEXT NOT NULL DEFAULT '',
    text TEXT NOT NULL DEFAULT '',
    text_key TEXT NOT NULL DEFAULT '',
    status TEXT NOT NULL DEFAULT '',
    FOREIGN KEY (case_id) REFERENCES cases(id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_documents_case ON documents(case_id);

-- Runs table
CREATE TABLE IF NOT EXISTS runs (
    id TEXT PRIMARY KEY,
    case_id TEXT NOT NULL,
    document_ids TEXT NOT NULL DEFAULT '[]',
    status TEXT NOT NULL DEFAULT 'queued',
    tier TEXT NOT NULL DEFAULT 'balanced',
    include_deep_questions INTEGER NOT NULL DEFAULT 0,
    input_tokens INTEGER NOT NULL DEFAULT 0,
    output_tokens INTEGER NOT NULL DEFAULT 0,
    cost_usd REAL NOT NULL DEFAULT 0,
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    started_at DATETIME,
    completed_at DATETIME,
    FOREIGN KEY (case_id) REFERENCES cases(id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_runs_case ON runs(case_id);
CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status);

-- Checkpoints table: one active checkpoint per run
CREATE TABLE IF NOT EXISTS checkpoints (
    id TEXT PRIMARY KEY,
    run_id TEXT NOT NULL UNIQUE,
    current_pass INTEGER NOT NULL DEFAULT 0,
    stage TEXT NOT NULL DEFAULT 'queued',
    pass_progress TEXT NOT NULL DEFAULT '{}',
    input_tokens INTEGER NOT NULL DEFAULT 0,
    output_tokens INTEGER NOT NULL DEFAULT 0,
    cost_usd REAL NOT NULL DEFAULT 0,
    documents_processed INTEGER NOT NULL DEFAULT 0,
    documents_failed INTEGER NOT NULL DEFAULT 0,
    last_error TEXT NOT NULL DEFAULT '',
    payload TEXT NOT NULL DEFAULT '{}',
    batch_progress TEXT NOT NULL DEFAULT '{}',
    updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    FOREIGN KEY (run_id) REFERENCES runs(id) ON DELETE CASCADE
);

-- Findings table
CREATE TABLE IF NOT EXISTS findings (
    id TEXT PRIMARY KEY,
    case_id TEXT NOT NULL,
    run_id TEXT NOT NULL,
    risk_question_id TEXT NOT NULL,
    category TEXT NOT NULL DEFAULT '',
    finding_type TEXT NOT NULL DEFAULT 'informational',
    status TEXT NOT NULL DEFAULT 'Info',
    title TEXT NOT NULL,
    detail TEXT NOT NULL DEFAULT '',
    evidence TEXT NOT NULL DEFAULT '',
    document_ids TEXT NOT NULL DEFAULT '[]',
    page_numbers TEXT NOT NULL DEFAULT '[]',
    exposure_amount REAL,
    exposure_currency TEXT,
    exposure_calculation TEXT,
    deal_impact TEXT NOT NULL DEFAULT '',
    materiality TEXT NOT NULL DEFAULT '',
    duplicate_count INTEGER NOT NULL DEFAULT 0,
    merged_from_docs TEXT NOT NULL DEFAULT '[]',
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    FOREIGN KEY (run_id) REFERENCES runs(id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_findings_run ON findings(run_id);
CREATE INDEX IF NOT EXISTS idx_findings_case ON findings(case_id);
CREATE INDEX IF NOT EXISTS idx_findings_status ON findings(status);

-- Graph: party vertices. Normalized name is unique within a case.
CREATE TABLE IF NOT EXISTS graph_parties (
    id TEXT PRIMARY KEY,
    case_id TEXT NOT NULL,
    name TEXT NOT NULL,
    normalized_name TEXT NOT NULL,
    party_type TEXT NOT NULL DEFAULT '',
    role TEXT NOT NULL DEFAULT '',
    source_docs TEXT NOT NULL DEFAULT '[]',
    UNIQUE (case_id, normalized_name)
);

CREATE INDEX IF NOT EXISTS idx_parties_case ON graph_parties(case_id);

-- Graph: agreement vertices (one per document)
CREATE TABLE IF NOT EXISTS graph_agreements (
    id TEXT PRIMARY KEY,
    case_id TEXT NOT NULL,
    document_id TEXT NOT NULL,
    title TEXT NOT NULL DEFAULT '',
    change_of_control INTEGER NOT NULL DEFAULT 0,
    assignment_restricted INTEGER NOT NULL DEFAULT 0,
    consent_required INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_agreements_case ON graph_agreements(case_id);
CREATE INDEX IF NOT EXISTS idx_agreements_doc ON graph_agreements(document_id);

-- Graph: obligation vertices
CREATE TABLE IF NOT EXISTS graph_obligations (
    id TEXT PRIMARY KEY,
    case_id TEXT NOT NULL,
    document_id TEXT NOT NULL,
    description TEXT NOT NULL,
    obligor_id TEXT NOT NULL DEFAULT '',
    obligee_id TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_obligations_case ON graph_obligations(case_id);

-- Graph: trigger vertices
CREATE TABLE IF NOT EXISTS graph_triggers (
    id TEXT PRIMARY KEY,
    case_id TEXT NOT NULL,
    document_id TEXT NOT NULL,
    trigger_type TEXT NOT NULL,
    description TEXT NOT NULL DEFAULT '',
    consequence TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_triggers_case ON graph_triggers(case_id);
CREATE INDEX IF NOT EXISTS idx_triggers_type ON graph_triggers(trigger_type);

-- Graph: amount vertices
CREATE TABLE IF NOT EXISTS graph_amounts (
    id TEXT PRIMARY KEY,
    case_id TEXT NOT NULL,
    document_id TEXT NOT NULL,
    value REAL NOT NULL,
    currency TEXT NOT NULL DEFAULT '',
    context TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_amounts_case ON graph_amounts(case_id);
CREATE INDEX IF NOT EXISTS idx_amounts_doc ON graph_amounts(document_id);

-- Graph: date vertices
CREATE TABLE IF NOT EXISTS graph_dates (
    id TEXT PRIMARY KEY,
    case_id TEXT NOT NULL,
    document_id TEXT NOT NULL,
    date TEXT NOT NULL,
    label TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_dates_case ON graph_dates(case_id);

-- Graph: edges
CREATE TABLE IF NOT EXISTS graph_edges (
    id TEXT PRIMARY KEY,
    case_id TEXT NOT NULL,
    edge_type TEXT NOT NULL,
    source_id TEXT NOT NULL,
    target_id TEXT NOT NULL,
    detail TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_edges_case ON graph_edges(case_id);
CREATE INDEX IF NOT EXISTS idx_edges_type ON graph_edges(edge_type);
CREATE INDEX IF NOT EXISTS idx_edges_source ON graph_edges(source_id);
CREATE INDEX IF NOT EXISTS idx_edges_target ON graph_edges(target_id);

-- Graph build status (one row per case)
CREATE TABLE IF NOT EXISTS graph_build_status (
    case_id TEXT PRIMARY KEY,
    run_id TEXT NOT NULL DEFAULT '',
    state TEXT NOT NULL DEFAULT 'running',
    vertex_count INTEGER NOT NULL DEFAULT 0,
    edge_count INTEGER NOT NULL DEFAULT 0,
    documents_done INTEGER NOT NULL DEFAULT 0,
    last_error TEXT NOT NULL DEFAULT '',
    updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

-- Validation checkpoints (human-in-the-loop gates)
CREATE TABLE IF NOT EXISTS validation_checkpoints (
    id TEXT PRIMARY KEY,
    run_id TEXT NOT NULL,
    questions TEXT NOT NULL DEFAULT '[]',
    corrections TEXT NOT NULL DEFAULT '',
    answered INTEGER NOT NULL DEFAULT 0,
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    answered_at DATETIME,
    FOREIGN KEY (run_id) REFERENCES runs(id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_validation_run ON validation_checkpoints(run_id);
`
