package sqlinline

const QSelectIntegrationToken = `--sql 3f6b2c1e-94d7-4a0b-b1f2-5c8e7d9a0b14
select token, updated_at, coalesce(properties->>'set_by', '')
from integration_tokens
where provider = $1::text;
`

const QUpsertIntegrationToken = `--sql c27e9a45-0d3b-4f86-9e1a-72b4d5c6f803
insert into integration_tokens (provider, token, properties, updated_at)
values ($1::text, $2::text, $3::jsonb, $4::timestamptz)
on conflict (provider) do update set
    token = excluded.token,
    properties = integration_tokens.properties || excluded.properties,
    updated_at = excluded.updated_at;
`
