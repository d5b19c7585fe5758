package sqlinline

// QInsertGenerationHistory writes the job summary once; a second write for the
// same job is ignored so records stay immutable.
const QInsertGenerationHistory = `--sql 385aa071-9c8d-4c69-9c93-f072efcfeb1f
insert into generation_history(
  job_id,
  owner_id,
  kind,
  state,
  prompt,
  parameters,
  outputs,
  transitions,
  failure_reason,
  error_detail,
  provider_task_id,
  cost_units,
  metadata,
  created_at,
  finished_at
)
values (
  $1::text,
  $2::text,
  $3::text,
  $4::text,
  $5::text,
  coalesce($6::jsonb, '{}'::jsonb),
  coalesce($7::jsonb, '[]'::jsonb),
  coalesce($8::jsonb, '[]'::jsonb),
  nullif($9::text, ''),
  nullif($10::text, ''),
  nullif($11::text, ''),
  $12::int,
  coalesce($13::jsonb, '{}'::jsonb),
  $14::timestamptz,
  $15::timestamptz
)
on conflict (job_id) do nothing;
`

const QSelectGenerationHistory = `--sql a7d66090-d998-4fdb-bfef-2760f38e0e69
select
  job_id,
  owner_id,
  kind,
  state,
  prompt,
  parameters,
  outputs,
  transitions,
  coalesce(failure_reason, ''),
  coalesce(error_detail, ''),
  coalesce(provider_task_id, ''),
  cost_units,
  metadata,
  created_at,
  finished_at
from generation_history
where owner_id = $1::text and job_id = $2::text
limit 1;
`

const QListGenerationHistory = `--sql 0edaec09-a5a4-434f-858c-6ee1af33124f
select
  job_id,
  owner_id,
  kind,
  state,
  prompt,
  parameters,
  outputs,
  transitions,
  coalesce(failure_reason, ''),
  coalesce(error_detail, ''),
  coalesce(provider_task_id, ''),
  cost_units,
  metadata,
  created_at,
  finished_at
from generation_history
where owner_id = $1::text
order by created_at desc
limit $2::int offset $3::int;
`
