package db

// SchemaSQL contains the database schema initialization SQL.
const SchemaSQL = `
    -- ==========================================================================
    -- CONVERSATION TABLE
    -- ==========================================================================
    DEFINE TABLE IF NOT EXISTS conversation SCHEMAFULL;
    DEFINE FIELD IF NOT EXISTS user_id ON conversation TYPE string DEFAULT "";
    DEFINE FIELD IF NOT EXISTS title ON conversation TYPE string DEFAULT "";
    DEFINE FIELD IF NOT EXISTS created_at ON conversation TYPE datetime DEFAULT time::now();
    DEFINE FIELD IF NOT EXISTS updated_at ON conversation TYPE datetime DEFAULT time::now();

    DEFINE INDEX IF NOT EXISTS conversation_user ON conversation FIELDS user_id;

    -- ==========================================================================
    -- MESSAGE TABLE
    -- ==========================================================================
    -- One record per message. Local status is never stored.
    DEFINE TABLE IF NOT EXISTS message SCHEMAFULL;
    DEFINE FIELD IF NOT EXISTS conversation ON message TYPE record<conversation>;
    DEFINE FIELD IF NOT EXISTS sender ON message TYPE string ASSERT $value IN ["user", "ai"];
    DEFINE FIELD IF NOT EXISTS text ON message TYPE string DEFAULT "";
    DEFINE FIELD IF NOT EXISTS action ON message TYPE option<string>;
    DEFINE FIELD IF NOT EXISTS image_data ON message TYPE option<string>;
    DEFINE FIELD IF NOT EXISTS grounding_references ON message TYPE array<object> FLEXIBLE DEFAULT [];
    DEFINE FIELD IF NOT EXISTS plan ON message TYPE option<object> FLEXIBLE;
    DEFINE FIELD IF NOT EXISTS project ON message TYPE option<object> FLEXIBLE;
    DEFINE FIELD IF NOT EXISTS created_at ON message TYPE datetime DEFAULT time::now();

    DEFINE INDEX IF NOT EXISTS message_conversation ON message FIELDS conversation, created_at;

    -- ==========================================================================
    -- MEMORY TABLE (layered user memory)
    -- ==========================================================================
    DEFINE TABLE IF NOT EXISTS memory SCHEMAFULL;
    DEFINE FIELD IF NOT EXISTS user_id ON memory TYPE string;
    DEFINE FIELD IF NOT EXISTS layer ON memory TYPE string;
    DEFINE FIELD IF NOT EXISTS content ON memory TYPE string;
    DEFINE FIELD IF NOT EXISTS created_at ON memory TYPE datetime DEFAULT time::now();

    DEFINE INDEX IF NOT EXISTS memory_user_layer ON memory FIELDS user_id, layer;
`
