package sqlinline

// QEnsureQuotaAccount creates the owner's account row and rolls the usage
// window over when the stored period is older than today. Open reservations
// survive the rollover.
const QEnsureQuotaAccount = `--sql 196aa451-8f0e-4343-b23d-cb892596b390
insert into quota_accounts(owner_id, period, used, reserved, updated_at)
values ($1::text, current_date, 0, 0, now())
on conflict (owner_id) do update set
  used = case when quota_accounts.period < current_date then 0 else quota_accounts.used end,
  period = current_date,
  updated_at = now()
where quota_accounts.period < current_date;
`

// QReserveQuota holds $3 units for job $2 only when used + reserved stays
// within the limit $4. The guarded update serializes concurrent reservations
// on the account row.
const QReserveQuota = `--sql 1cd9f14d-7602-4a7d-b21b-519748f20ccc
with
acct as (
  update quota_accounts
  set reserved = reserved + $3::int,
      updated_at = now()
  where owner_id = $1::text
    and used + reserved + $3::int <= $4::int
    and not exists (select 1 from quota_reservations where job_id = $2::text)
  returning owner_id
),
ins as (
  insert into quota_reservations(id, owner_id, job_id, units, status, created_at)
  select $5::uuid, owner_id, $2::text, $3::int, 'active', now()
  from acct
  returning id
)
select
  (select count(*) from ins)::int as reserved,
  exists(select 1 from quota_reservations where job_id = $2::text) as duplicate;
`

const QCommitReservation = `--sql 696b0caa-f86f-49cd-a803-e3f23b3f3025
with res as (
  update quota_reservations
  set status = 'committed', resolved_at = now()
  where id = $1::uuid and status = 'active'
  returning owner_id, units
)
update quota_accounts a
set used = a.used + res.units,
    reserved = greatest(a.reserved - res.units, 0),
    updated_at = now()
from res
where a.owner_id = res.owner_id;
`

const QRollbackReservation = `--sql c08a1747-c9dc-477a-a635-0e1ee7bd0dfe
with res as (
  update quota_reservations
  set status = 'rolled_back', resolved_at = now()
  where id = $1::uuid and status = 'active'
  returning owner_id, units
)
update quota_accounts a
set reserved = greatest(a.reserved - res.units, 0),
    updated_at = now()
from res
where a.owner_id = res.owner_id;
`

// QReleaseStaleReservations rolls back every active reservation created
// before $1 and returns their holds to the owners' accounts.
const QReleaseStaleReservations = `--sql 5d0c7e39-2b64-4f0e-9a3c-8e41b7d6f215
with stale as (
  update quota_reservations
  set status = 'rolled_back', resolved_at = now()
  where status = 'active' and created_at < $1::timestamptz
  returning owner_id, units
),
per_owner as (
  select owner_id, sum(units)::int as units
  from stale
  group by owner_id
),
acct as (
  update quota_accounts a
  set reserved = greatest(a.reserved - p.units, 0),
      updated_at = now()
  from per_owner p
  where a.owner_id = p.owner_id
  returning a.owner_id
)
select (select count(*) from stale)::int as released;
`

const QSelectReservationStatus = `--sql 19d343ad-5efd-42bb-9b3b-c34fb5c3bdc7
select status
from quota_reservations
where id = $1::uuid
limit 1;
`

const QSelectQuotaUsage = `--sql 2b2bbe45-fe94-4b70-b08b-0e5fc24e3126
select
  case when period < current_date then 0 else used end as used,
  reserved
from quota_accounts
where owner_id = $1::text
limit 1;
`
