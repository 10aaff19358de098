package sqlinline

// QUpsertAccount creates the account on first sight. An existing row only
// picks up a changed, non-empty email. The last column reports whether the
// row was inserted.
const QUpsertAccount = `--sql 6444ffba-167b-462f-902b-2d5182ea7d94
insert into accounts (id, email, role, balance, created_at, updated_at)
values ($1::text, $2::text, $3::text, $4::bigint, now(), now())
on conflict (id) do update set
    email = case when excluded.email <> '' then excluded.email else accounts.email end,
    updated_at = case
        when excluded.email <> '' and excluded.email <> accounts.email then now()
        else accounts.updated_at
    end
returning id, email, role, balance, lifetime_consumed, created_at, updated_at, (xmax = 0) as created;
`

const QSelectAccount = `--sql 8b909ddf-becc-4819-868c-2fc1df46ffa3
select id, email, role, balance, lifetime_consumed, created_at, updated_at
from accounts
where id = $1::text;
`

const QLockAccountBalance = `--sql a1929d5d-6fcf-4abf-81aa-afc52f783c87
select balance
from accounts
where id = $1::text
for update;
`

// QAdjustAccount applies a signed balance delta and a lifetime increment.
const QAdjustAccount = `--sql b6a8f2d6-d2ea-4cc2-b566-c2cfdedb566c
update accounts
set balance = balance + $2::bigint,
    lifetime_consumed = lifetime_consumed + $3::bigint,
    updated_at = now()
where id = $1::text
returning balance;
`

const QDeleteAccount = `--sql a98e2f99-8b61-4dfa-874e-d67d4230bdde
delete from accounts
where id = $1::text;
`

const QNotifyBalanceChange = `--sql a059e93a-ba2f-4917-8bab-f9ab237ef81e
select pg_notify('quizora_balance', $1::text);
`
