package sqlinline

const QCreateAppSettings = `--sql 9d7e2f41-0b6a-4c8e-8a15-c3f2e9d40b78
create table if not exists app_settings (
    key text primary key,
    value jsonb not null,
    updated_at timestamptz not null default now()
);
`

const QSelectAppSetting = `--sql 2a6c8e14-5d3b-4f90-b7a1-e84c0d2f9b63
select value
from app_settings
where key = $1::text;
`

const QUpsertAppSetting = `--sql e7f0a3c5-8b21-4d6e-9f47-1a2b3c4d5e6f
insert into app_settings (key, value, updated_at)
values ($1::text, $2::jsonb, now())
on conflict (key) do update set
    value = excluded.value,
    updated_at = now();
`
