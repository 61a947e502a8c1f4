package queue

// dequeueScript атомарно забирает самую раннюю видимую задачу уровня.
//
// KEYS[1] — ZSET уровня приоритета
// KEYS[2] — ZSET leased
// KEYS[3] — HASH задач
// ARGV[1] — текущее время (unix ms)
// ARGV[2] — дедлайн lease (unix ms)
//
// Возвращает JSON задачи или nil, если видимых задач нет.
const dequeueScript = `
local ids = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', 0, 1)
if #ids == 0 then
  return nil
end
local id = ids[1]
redis.call('ZREM', KEYS[1], id)
redis.call('ZADD', KEYS[2], ARGV[2], id)
return redis.call('HGET', KEYS[3], id)
`
