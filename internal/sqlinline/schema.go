package sqlinline

// QEnsureSchema creates the ledger tables. It runs without arguments so the
// simple protocol accepts the multi-statement body.
const QEnsureSchema = `--sql d0551fc9-375e-4896-852c-33a577817480
create table if not exists accounts (
    id text primary key,
    email text not null default '',
    role text not null default 'user',
    balance bigint not null default 0 check (balance >= 0),
    lifetime_consumed bigint not null default 0 check (lifetime_consumed >= 0),
    created_at timestamptz not null default now(),
    updated_at timestamptz not null default now()
);

create table if not exists usage_events (
    id text primary key,
    account_id text not null references accounts(id) on delete cascade,
    kind text not null,
    session_id text not null default '',
    declared_cost bigint not null,
    deducted bigint not null check (deducted >= 0),
    actual_cost bigint not null default 0 check (actual_cost >= 0),
    input_ref text not null default '',
    output text,
    status text not null default 'pending'
        check (status in ('pending', 'committed', 'refunded', 'failed')),
    failure_reason text not null default '',
    country text not null default '',
    created_at timestamptz not null default clock_timestamp(),
    resolved_at timestamptz
);

create index if not exists usage_events_history_idx
    on usage_events (account_id, created_at desc, id desc);

create index if not exists usage_events_pending_idx
    on usage_events (created_at) where status = 'pending';

create table if not exists subscription_grants (
    id text primary key,
    account_id text not null references accounts(id) on delete cascade,
    plan text not null,
    credits bigint not null check (credits > 0),
    credits_remaining bigint not null check (credits_remaining >= 0),
    price_paid bigint not null default 0,
    status text not null default 'active'
        check (status in ('active', 'expired', 'cancelled')),
    valid_from timestamptz not null,
    valid_until timestamptz,
    created_at timestamptz not null default clock_timestamp(),
    resolved_at timestamptz
);

create unique index if not exists subscription_grants_one_active_idx
    on subscription_grants (account_id) where status = 'active';

create table if not exists integration_tokens (
    id uuid primary key,
    provider text not null unique,
    token text not null,
    properties jsonb not null default '{}'::jsonb,
    created_at timestamptz not null default now(),
    updated_at timestamptz not null default now()
);
`
