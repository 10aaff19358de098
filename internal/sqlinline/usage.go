package sqlinline

const QInsertUsageEvent = `--sql a20f06d8-113d-4b6d-b00f-b734bc968010
insert into usage_events (id, account_id, kind, session_id, declared_cost, deducted, input_ref, country, status)
values ($1::text, $2::text, $3::text, $4::text, $5::bigint, $6::bigint, $7::text, $8::text, 'pending')
returning id, account_id, kind, session_id, declared_cost, deducted, actual_cost, input_ref, output,
          status, failure_reason, country, created_at, resolved_at;
`

const QSelectUsageEvent = `--sql 85607a18-af09-4bd0-8c59-996bf8ba2062
select id, account_id, kind, session_id, declared_cost, deducted, actual_cost, input_ref, output,
       status, failure_reason, country, created_at, resolved_at
from usage_events
where id = $1::text;
`

const QSelectUsageEventOwner = `--sql 5b0e5c01-c5b7-4c20-ae5f-6b7036caccb1
select account_id
from usage_events
where id = $1::text;
`

const QLockUsageEvent = `--sql b764e881-72ab-4cd6-bb26-97d3c4e2b991
select id, account_id, kind, session_id, declared_cost, deducted, actual_cost, input_ref, output,
       status, failure_reason, country, created_at, resolved_at
from usage_events
where id = $1::text
for update;
`

const QCommitUsageEvent = `--sql 66a01787-5a0f-4a2c-a77a-5a0fe6b89e7b
update usage_events
set status = 'committed',
    actual_cost = $2::bigint,
    output = $3::text,
    resolved_at = now()
where id = $1::text and status = 'pending'
returning id, account_id, kind, session_id, declared_cost, deducted, actual_cost, input_ref, output,
          status, failure_reason, country, created_at, resolved_at;
`

const QRefundUsageEvent = `--sql 6bab5db6-61ab-49a6-b9a5-a81f469fa5be
update usage_events
set status = $2::text,
    failure_reason = $3::text,
    actual_cost = 0,
    resolved_at = now()
where id = $1::text and status = 'pending'
returning id, account_id, kind, session_id, declared_cost, deducted, actual_cost, input_ref, output,
          status, failure_reason, country, created_at, resolved_at;
`

// QListUsageEvents pages newest first over (created_at, id). Empty filters
// and a null cursor match everything.
const QListUsageEvents = `--sql a021922a-20ad-4fca-8c4c-7b324e8bec2c
select id, account_id, kind, session_id, declared_cost, deducted, actual_cost, input_ref, output,
       status, failure_reason, country, created_at, resolved_at
from usage_events
where account_id = $1::text
  and ($2::text = '' or session_id = $2::text)
  and ($3::text = '' or kind = $3::text)
  and ($4::text = '' or status = $4::text)
  and ($5::timestamptz is null or (created_at, id) < ($5::timestamptz, $6::text))
order by created_at desc, id desc
limit $7::int;
`

const QSelectStalePending = `--sql cc81658a-06a3-489a-b1ec-247c1a579e49
select id, account_id, kind, session_id, declared_cost, deducted, actual_cost, input_ref, output,
       status, failure_reason, country, created_at, resolved_at
from usage_events
where status = 'pending' and created_at < $1::timestamptz
order by created_at asc
limit $2::int;
`
