package sqlinline

// QExpireLapsedGrantForAccount clears a grant whose validity ended before the
// sweep got to it, so a renewal is not blocked by it.
const QExpireLapsedGrantForAccount = `--sql fb105993-badd-464e-8bb5-8d0efc2d1126
update subscription_grants
set status = 'expired', resolved_at = now()
where account_id = $1::text and status = 'active'
  and valid_until is not null and valid_until <= now();
`

const QActiveGrantExists = `--sql 3c8f6a2e-5d41-4b7a-9e0c-71f2d84a6b19
select exists (
  select 1 from subscription_grants
  where account_id = $1::text and status = 'active'
);
`

const QInsertGrant = `--sql 7e000efb-91b3-4285-a829-6903f8a2a392
insert into subscription_grants (id, account_id, plan, credits, credits_remaining, price_paid, status, valid_from, valid_until)
values ($1::text, $2::text, $3::text, $4::bigint, $4::bigint, $5::bigint, 'active', $6::timestamptz, $7::timestamptz)
returning id, account_id, plan, credits, credits_remaining, price_paid, status, valid_from, valid_until, created_at, resolved_at;
`

const QSelectGrantOwner = `--sql 48bf2973-e324-4b11-9872-b4815dee1b75
select account_id
from subscription_grants
where id = $1::text;
`

const QLockGrant = `--sql 9058800c-5744-4650-883f-ec7c299735f3
select id, account_id, plan, credits, credits_remaining, price_paid, status, valid_from, valid_until, created_at, resolved_at
from subscription_grants
where id = $1::text
for update;
`

const QCancelGrant = `--sql 00ed42e9-49d9-4405-8d37-1d0b3986c701
update subscription_grants
set status = 'cancelled',
    credits_remaining = credits_remaining - $2::bigint,
    resolved_at = now()
where id = $1::text and status = 'active'
returning id, account_id, plan, credits, credits_remaining, price_paid, status, valid_from, valid_until, created_at, resolved_at;
`

// QConsumeActiveGrant draws committed usage from the active grant first.
const QConsumeActiveGrant = `--sql 44d0eeb9-17af-4206-bc8a-33558966d1b7
update subscription_grants
set credits_remaining = credits_remaining - least($2::bigint, credits_remaining)
where account_id = $1::text and status = 'active';
`

const QExpireLapsedGrants = `--sql 1cfc23b7-7484-4e88-a5a4-861ef9f49518
update subscription_grants
set status = 'expired', resolved_at = $1::timestamptz
where status = 'active' and valid_until is not null and valid_until <= $1::timestamptz;
`

const QSelectActiveGrant = `--sql 53efdbb6-8ce7-4266-970e-8d93e52069a9
select id, account_id, plan, credits, credits_remaining, price_paid, status, valid_from, valid_until, created_at, resolved_at
from subscription_grants
where account_id = $1::text and status = 'active'
limit 1;
`
